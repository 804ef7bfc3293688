// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the "autosd policy" CLI subcommands for
// inspecting policy decisions without acting on them.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	"github.com/autosd-foundation/autosd/lib/clock"
	"github.com/autosd-foundation/autosd/lib/config"
	"github.com/autosd-foundation/autosd/lib/policy"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

// Command returns the top-level "policy" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "policy",
		Summary: "Inspect policy decisions",
		Description: `Inspect what policy would decide, without acting.

These commands run the real resolution path — project policy file,
grant verification, revocation ledger — but never write audit records
and never run an action. Use them to answer "would this deploy be
allowed right now?" before committing to it.`,
		Subcommands: []*cli.Command{
			showCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Would a prod deploy of billing be allowed under this grant?",
				Command:     "autosd policy show --project billing --action deploy --env prod --preauth-grant 4f2a...",
			},
			{
				Description: "Effective merged policy for a project",
				Command:     "autosd policy show --project billing --json",
			},
		},
	}
}

// decisionView is the JSON shape for policy show output.
type decisionView struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	Code          string `json:"code,omitempty"`
	Capability    string `json:"capability,omitempty"`
	BreakGlass    bool   `json:"break_glass,omitempty"`
	RequireCanary bool   `json:"require_canary,omitempty"`
}

func showCommand() *cli.Command {
	var (
		configPath string
		project    string
		action     string
		env        string
		targetEnv  string
		grantID    string
		asJSON     bool
	)

	return &cli.Command{
		Name:    "show",
		Summary: "Show the decision for an action, or the merged policy",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.StringVar(&project, "project", "", "project id (required)")
			flags.StringVar(&action, "action", "", "action to resolve: deploy, promote, rollback, patch, merge, publish")
			flags.StringVar(&env, "env", "", "environment for deploy/rollback")
			flags.StringVar(&targetEnv, "target-env", "", "target environment for promote")
			flags.StringVar(&grantID, "preauth-grant", "", "grant id to present")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("show takes no arguments; use flags")
			}
			if project == "" {
				return cli.Validation("--project is required")
			}

			var cfg *config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return cli.Validation("loading configuration: %v", err)
			}

			// No action named: print the merged policy itself.
			if action == "" {
				return showMergedPolicy(cfg, project, asJSON)
			}

			parsedAction, err := policy.ParseAction(action)
			if err != nil {
				return cli.Validation("%v", err)
			}

			resolver, closeStore, err := openResolver(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			decision, err := resolver.Resolve(ctx, policy.Request{
				Action:            parsedAction,
				Project:           project,
				Environment:       env,
				TargetEnvironment: targetEnv,
				GrantID:           grantID,
			})
			if err != nil {
				return cli.Internal("resolving: %v", err)
			}

			if asJSON {
				if err := cli.WriteJSON(decisionView{
					Allowed:       decision.Allowed,
					Reason:        decision.Reason,
					Code:          decision.Code,
					Capability:    string(decision.Capability),
					BreakGlass:    decision.BreakGlass,
					RequireCanary: decision.RequireCanary,
				}); err != nil {
					return err
				}
			} else if decision.Allowed {
				fmt.Printf("allowed: %s\n", decision.Reason)
				if decision.BreakGlass {
					fmt.Println("note: break-glass authorization; subject to post-hoc review")
				}
				if decision.RequireCanary {
					fmt.Println("note: production deploy requires a canary stage")
				}
			} else {
				fmt.Printf("denied: %s (%s)\n", decision.Code, decision.Reason)
			}

			if !decision.Allowed {
				// The stable code already went to stdout; exit non-zero
				// without a redundant error line.
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// showMergedPolicy prints the effective policy for a project: defaults
// with the project file merged on top.
func showMergedPolicy(cfg *config.Config, project string, asJSON bool) error {
	merged, err := policy.Load(cfg.ProjectDir(project))
	if err != nil {
		return cli.Internal("loading project policy: %v", err)
	}
	if asJSON {
		return cli.WriteJSON(merged)
	}
	fmt.Printf("effective policy for %s\n", project)
	fmt.Printf("  deployment: dev=%v staging=%v canary_for_prod=%v\n",
		merged.Deployment.AllowDev, merged.Deployment.AllowStaging,
		merged.Deployment.RequireCanaryForProd)
	fmt.Printf("  gitops:     auto_push=%v auto_merge=%v\n",
		merged.Gitops.AutoPush, merged.Gitops.AutoMerge)
	fmt.Printf("  publish:    enabled=%v\n", merged.Publish.Enabled)
	fmt.Printf("  budgets:    deploys/day=%d patches/incident=%d merges/day=%d failures_halt=%d\n",
		merged.Budgets.MaxDeploysPerDay, merged.Budgets.MaxPatchesPerIncident,
		merged.Budgets.MaxAutoMergesPerDay, merged.Budgets.MaxFailuresBeforeHalt)
	return nil
}

// openResolver wires the verification path for policy inspection. The
// returned closer releases the grant store.
func openResolver(cfg *config.Config, logger *slog.Logger) (*policy.Resolver, func(), error) {
	clk := clock.Real()

	keyring, err := preauth.OpenKeyring(preauth.KeyringConfig{
		Dir:         cfg.Paths.Home,
		GraceWindow: cfg.KeyGraceWindow(),
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, cli.Internal("opening keyring: %v", err)
	}

	store, err := preauth.OpenStore(preauth.StoreConfig{
		Path:   cfg.Paths.Store,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, cli.Internal("opening grant store: %v", err)
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
		return nil, nil, cli.Internal("constructing verifier: %v", err)
	}

	resolver, err := policy.NewResolver(policy.ResolverConfig{
		Verifier:     verifier,
		ProjectsRoot: cfg.Paths.Projects,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, cli.Internal("constructing resolver: %v", err)
	}
	return resolver, func() { store.Close() }, nil
}
