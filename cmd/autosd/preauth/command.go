// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package preauth implements the "autosd preauth" CLI subcommands:
// signing-key lifecycle, grant issuance and revocation, grant
// inspection, project grant references, and audit segment sealing.
package preauth

import (
	"fmt"
	"log/slog"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	"github.com/autosd-foundation/autosd/lib/audit"
	"github.com/autosd-foundation/autosd/lib/clock"
	"github.com/autosd-foundation/autosd/lib/config"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

// Command returns the top-level "preauth" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "preauth",
		Summary: "Manage preauthorization keys and grants",
		Description: `Manage the preauthorization grant lifecycle.

Grants are signed, time-boxed permissions that let the delivery agent
perform privileged actions (deploys, merges, publishes) without a
human in the loop. Keys sign grants; the revocation ledger kills them;
the audit trail records every decision.`,
		Subcommands: []*cli.Command{
			initKeysCommand(),
			rotateKeysCommand(),
			createGrantCommand(),
			listCommand(),
			showCommand(),
			revokeCommand(),
			ensureCommand(),
			sealAuditCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Initialize signing keys",
				Command:     "autosd preauth init-keys",
			},
			{
				Description: "Issue a 24h staging-deploy grant for two projects",
				Command:     "autosd preauth create-grant --project-ids billing,api --auto-deploy-staging --expires-in-hours 24",
			},
			{
				Description: "Revoke a grant after an incident",
				Command:     "autosd preauth revoke 4f2a... --reason 'credential leak'",
			},
		},
	}
}

// runtime bundles the opened preauth components a subcommand needs.
// Close releases the store; the keyring and audit log hold no open
// handles between operations.
type runtime struct {
	cfg      *config.Config
	clock    clock.Clock
	keyring  *preauth.Keyring
	store    *preauth.Store
	audit    *audit.Logger
	issuer   *preauth.Issuer
	verifier *preauth.Verifier
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// openRuntime loads configuration and wires the preauth components.
// configPath comes from the --config flag; empty falls back to
// AUTOSD_CONFIG and then defaults.
func openRuntime(configPath string, logger *slog.Logger) (*runtime, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, cli.Validation("loading configuration: %v", err)
	}

	clk := clock.Real()

	keyring, err := preauth.OpenKeyring(preauth.KeyringConfig{
		Dir:         cfg.Paths.Home,
		GraceWindow: cfg.KeyGraceWindow(),
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, cli.Internal("opening keyring: %v", err)
	}

	store, err := preauth.OpenStore(preauth.StoreConfig{
		Path:   cfg.Paths.Store,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, cli.Internal("opening grant store: %v", err)
	}

	auditLog, err := audit.Open(audit.Config{
		Path:   cfg.Paths.Audit,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		store.Close()
		return nil, cli.Internal("opening audit log: %v", err)
	}

	issuer, err := preauth.NewIssuer(preauth.IssuerConfig{
		Keyring:           keyring,
		Store:             store,
		Audit:             auditLog,
		MaxTTL:            cfg.MaxTTL(),
		BreakGlassCeiling: cfg.BreakGlassCeiling(),
		Clock:             clk,
		Logger:            logger,
	})
	if err != nil {
		store.Close()
		return nil, cli.Internal("constructing issuer: %v", err)
	}

	verifier, err := preauth.NewVerifier(preauth.VerifierConfig{
		Store:         store,
		Keyring:       keyring,
		SkewTolerance: cfg.ClockSkewTolerance(),
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, cli.Internal("constructing verifier: %v", err)
	}

	return &runtime{
		cfg:      cfg,
		clock:    clk,
		keyring:  keyring,
		store:    store,
		audit:    auditLog,
		issuer:   issuer,
		verifier: verifier,
	}, nil
}

// escrowKeys writes an age-encrypted escrow copy of the current
// private key when recipients were supplied. Shared by init-keys and
// rotate-keys.
func escrowKeys(r *runtime, recipients []string, logger *slog.Logger) error {
	if len(recipients) == 0 {
		return nil
	}
	path, err := r.keyring.Escrow(recipients)
	if err != nil {
		return cli.Internal("writing key escrow: %v", err)
	}
	fmt.Printf("escrow copy written to %s\n", path)
	logger.Info("key escrow written", "path", path)
	return nil
}
