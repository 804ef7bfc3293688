// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Policy is the effective rule set for one project after merging the
// project's policy file over the built-in defaults.
type Policy struct {
	Deployment DeploymentPolicy `json:"deployment"`
	Gitops     GitopsPolicy     `json:"gitops"`
	Publish    PublishPolicy    `json:"publish"`
	Budgets    Budgets          `json:"budgets"`
}

// DeploymentPolicy governs automated deploys without a grant. AllowProd
// is intentionally absent: production never default-allows, so there is
// no knob a project file could set.
type DeploymentPolicy struct {
	AllowDev             bool `json:"allow_dev"`
	AllowStaging         bool `json:"allow_staging"`
	RequireCanaryForProd bool `json:"require_canary_for_prod"`
}

// GitopsPolicy governs automated repository writes without a grant.
type GitopsPolicy struct {
	AutoPush  bool `json:"auto_push"`
	AutoMerge bool `json:"auto_merge"`
}

// PublishPolicy governs artifact publication without a grant.
type PublishPolicy struct {
	Enabled bool `json:"enabled"`
}

// Budgets are the hard rate and failure limits the agent runs under.
// They apply regardless of grants; a grant widens what is allowed, not
// how often.
type Budgets struct {
	MaxDeploysPerDay      int `json:"max_deploys_per_day"`
	MaxPatchesPerIncident int `json:"max_patches_per_incident"`
	MaxAutoMergesPerDay   int `json:"max_auto_merges_per_day"`
	MaxFailuresBeforeHalt int `json:"max_failures_before_halt"`
}

// Default returns the built-in base policy. Conservative throughout:
// dev deploys are the only automated action enabled out of the box.
func Default() Policy {
	return Policy{
		Deployment: DeploymentPolicy{
			AllowDev:             true,
			AllowStaging:         false,
			RequireCanaryForProd: true,
		},
		Gitops: GitopsPolicy{
			AutoPush:  false,
			AutoMerge: false,
		},
		Publish: PublishPolicy{
			Enabled: false,
		},
		Budgets: Budgets{
			MaxDeploysPerDay:      10,
			MaxPatchesPerIncident: 3,
			MaxAutoMergesPerDay:   5,
			MaxFailuresBeforeHalt: 2,
		},
	}
}

// overrides mirrors Policy with pointer fields, so a project file can
// set any subset and leave the rest at defaults. JSONC, to allow
// comments in checked-in policy files.
type overrides struct {
	Deployment *struct {
		AllowDev             *bool `json:"allow_dev"`
		AllowStaging         *bool `json:"allow_staging"`
		RequireCanaryForProd *bool `json:"require_canary_for_prod"`
	} `json:"deployment"`
	Gitops *struct {
		AutoPush  *bool `json:"auto_push"`
		AutoMerge *bool `json:"auto_merge"`
	} `json:"gitops"`
	Publish *struct {
		Enabled *bool `json:"enabled"`
	} `json:"publish"`
	Budgets *struct {
		MaxDeploysPerDay      *int `json:"max_deploys_per_day"`
		MaxPatchesPerIncident *int `json:"max_patches_per_incident"`
		MaxAutoMergesPerDay   *int `json:"max_auto_merges_per_day"`
		MaxFailuresBeforeHalt *int `json:"max_failures_before_halt"`
	} `json:"budgets"`
}

const policyFileName = "policy.jsonc"

// PolicyPath returns the project policy file location for a project
// directory.
func PolicyPath(projectDir string) string {
	return filepath.Join(projectDir, ".autosd", policyFileName)
}

// Load returns the effective policy for a project directory: built-in
// defaults with the project's .autosd/policy.jsonc (if any) merged on
// top. A missing file is not an error; a malformed one is, and the
// caller must fail closed rather than fall back to defaults.
func Load(projectDir string) (Policy, error) {
	merged := Default()

	raw, err := os.ReadFile(PolicyPath(projectDir))
	if os.IsNotExist(err) {
		return merged, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("policy: reading project policy: %w", err)
	}

	var over overrides
	if err := json.Unmarshal(jsonc.ToJSON(raw), &over); err != nil {
		return Policy{}, fmt.Errorf("policy: parsing %s: %w", PolicyPath(projectDir), err)
	}

	if d := over.Deployment; d != nil {
		applyBool(&merged.Deployment.AllowDev, d.AllowDev)
		applyBool(&merged.Deployment.AllowStaging, d.AllowStaging)
		applyBool(&merged.Deployment.RequireCanaryForProd, d.RequireCanaryForProd)
	}
	if g := over.Gitops; g != nil {
		applyBool(&merged.Gitops.AutoPush, g.AutoPush)
		applyBool(&merged.Gitops.AutoMerge, g.AutoMerge)
	}
	if p := over.Publish; p != nil {
		applyBool(&merged.Publish.Enabled, p.Enabled)
	}
	if b := over.Budgets; b != nil {
		applyInt(&merged.Budgets.MaxDeploysPerDay, b.MaxDeploysPerDay)
		applyInt(&merged.Budgets.MaxPatchesPerIncident, b.MaxPatchesPerIncident)
		applyInt(&merged.Budgets.MaxAutoMergesPerDay, b.MaxAutoMergesPerDay)
		applyInt(&merged.Budgets.MaxFailuresBeforeHalt, b.MaxFailuresBeforeHalt)
	}
	return merged, nil
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
