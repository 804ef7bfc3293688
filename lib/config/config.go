// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for autosd.
type Config struct {
	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Grants configures issuance and verification limits.
	Grants GrantsConfig `yaml:"grants"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Home is the preauth home directory. Signing keys live under
	// Home/keys.
	// Default: ~/.autosd/preauth
	Home string `yaml:"home"`

	// Projects is the directory whose children are project
	// directories; each may carry .autosd/policy.jsonc overrides.
	// Default: ~/projects
	Projects string `yaml:"projects"`

	// Store is the SQLite database holding grants and the revocation
	// ledger.
	// Default: <home>/grants.db
	Store string `yaml:"store"`

	// Audit is the active audit log file. Sealed segments go to a
	// sealed/ directory beside it.
	// Default: <home>/audit.jsonl
	Audit string `yaml:"audit"`
}

// GrantsConfig configures issuance and verification limits.
type GrantsConfig struct {
	// MaxTTLHours is the longest lifetime an ordinary grant may have.
	// Requests above it are rejected.
	// Default: 72
	MaxTTLHours int `yaml:"max_ttl_hours"`

	// BreakGlassCeilingHours is the hard lifetime cap for break-glass
	// grants. Longer requests are clamped down to this.
	// Default: 2
	BreakGlassCeilingHours int `yaml:"break_glass_ceiling_hours"`

	// KeyGraceWindowHours is how long a retired verification key
	// remains accepted after rotation. Must be at least MaxTTLHours,
	// or an unexpired grant could outlive its verification key.
	// Default: 96
	KeyGraceWindowHours int `yaml:"key_grace_window_hours"`

	// ClockSkewToleranceSeconds extends expiry acceptance to absorb
	// clock drift between hosts. Zero means exact expiry.
	// Default: 0
	ClockSkewToleranceSeconds int `yaml:"clock_skew_tolerance_seconds"`
}

// Default returns the default configuration: single-operator paths
// under ~/.autosd and conservative grant limits.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	preauthHome := filepath.Join(homeDir, ".autosd", "preauth")

	return &Config{
		Paths: PathsConfig{
			Home:     preauthHome,
			Projects: filepath.Join(homeDir, "projects"),
			Store:    filepath.Join(preauthHome, "grants.db"),
			Audit:    filepath.Join(preauthHome, "audit.jsonl"),
		},
		Grants: GrantsConfig{
			MaxTTLHours:               72,
			BreakGlassCeilingHours:    2,
			KeyGraceWindowHours:       96,
			ClockSkewToleranceSeconds: 0,
		},
	}
}

// Load loads configuration from the AUTOSD_CONFIG environment
// variable if set, otherwise returns validated defaults.
func Load() (*Config, error) {
	path := os.Getenv("AUTOSD_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// defaults. The file is the single source of truth once named; the
// only expansion performed is ${VAR} patterns in paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// MaxTTL returns the maximum ordinary grant lifetime.
func (c *Config) MaxTTL() time.Duration {
	return time.Duration(c.Grants.MaxTTLHours) * time.Hour
}

// BreakGlassCeiling returns the break-glass lifetime cap.
func (c *Config) BreakGlassCeiling() time.Duration {
	return time.Duration(c.Grants.BreakGlassCeilingHours) * time.Hour
}

// KeyGraceWindow returns the retired-key acceptance window.
func (c *Config) KeyGraceWindow() time.Duration {
	return time.Duration(c.Grants.KeyGraceWindowHours) * time.Hour
}

// ClockSkewTolerance returns the expiry skew allowance.
func (c *Config) ClockSkewTolerance() time.Duration {
	return time.Duration(c.Grants.ClockSkewToleranceSeconds) * time.Second
}

// ProjectDir returns the directory of one project under the projects
// root.
func (c *Config) ProjectDir(project string) string {
	return filepath.Join(c.Paths.Projects, project)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":        os.Getenv("HOME"),
		"AUTOSD_HOME": c.Paths.Home,
	}

	c.Paths.Home = expandVars(c.Paths.Home, vars)
	vars["AUTOSD_HOME"] = c.Paths.Home

	c.Paths.Projects = expandVars(c.Paths.Projects, vars)
	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.Audit = expandVars(c.Paths.Audit, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Home == "" {
		errs = append(errs, fmt.Errorf("paths.home is required"))
	}
	if c.Paths.Projects == "" {
		errs = append(errs, fmt.Errorf("paths.projects is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}
	if c.Paths.Audit == "" {
		errs = append(errs, fmt.Errorf("paths.audit is required"))
	}

	if c.Grants.MaxTTLHours <= 0 {
		errs = append(errs, fmt.Errorf("grants.max_ttl_hours must be positive"))
	}
	if c.Grants.BreakGlassCeilingHours <= 0 {
		errs = append(errs, fmt.Errorf("grants.break_glass_ceiling_hours must be positive"))
	}
	if c.Grants.KeyGraceWindowHours < c.Grants.MaxTTLHours {
		// A grace window shorter than the maximum TTL would let an
		// unexpired grant outlive its verification key after a
		// rotation.
		errs = append(errs, fmt.Errorf(
			"grants.key_grace_window_hours (%d) must be at least grants.max_ttl_hours (%d)",
			c.Grants.KeyGraceWindowHours, c.Grants.MaxTTLHours))
	}
	if c.Grants.ClockSkewToleranceSeconds < 0 {
		errs = append(errs, fmt.Errorf("grants.clock_skew_tolerance_seconds must not be negative"))
	}

	return errors.Join(errs...)
}
