// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

func createGrantCommand() *cli.Command {
	var (
		configPath       string
		projectIDs       []string
		expiresInHours   int
		issuerName       string
		references       []string
		autoDeployDev    bool
		autoDeployStage  bool
		autoDeployProd   bool
		noAutoDeployProd bool
		autoRollback     bool
		autoPush         bool
		autoMerge        bool
		publish          bool
		breakGlass       bool
	)

	return &cli.Command{
		Name:    "create-grant",
		Summary: "Issue a signed preauthorization grant",
		Description: `Issue a signed, time-boxed preauthorization grant.

Each capability flag adds one capability to the grant. The grant is
signed with the current key, persisted, and audited. Break-glass
grants have their lifetime clamped to the configured emergency
ceiling.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("create-grant", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.StringSliceVar(&projectIDs, "project-ids", nil, "project ids the grant covers, or '*' for all")
			flags.IntVar(&expiresInHours, "expires-in-hours", 0, "grant lifetime in hours (required)")
			flags.StringVar(&issuerName, "issuer", "", "operator name recorded in the grant")
			flags.StringArrayVar(&references, "reference", nil, "audit context (ticket id, incident); repeatable")
			flags.BoolVar(&autoDeployDev, "auto-deploy-dev", false, "allow automated dev deploys")
			flags.BoolVar(&autoDeployStage, "auto-deploy-staging", false, "allow automated staging deploys")
			flags.BoolVar(&autoDeployProd, "auto-deploy-prod", false, "allow automated prod deploys and promotions")
			flags.BoolVar(&noAutoDeployProd, "no-auto-deploy-prod", false, "assert this grant must not authorize prod deploys")
			flags.BoolVar(&autoRollback, "auto-rollback", false, "allow automated rollbacks")
			flags.BoolVar(&autoPush, "auto-push", false, "allow pushing generated patches")
			flags.BoolVar(&autoMerge, "auto-merge", false, "allow merging agent pull requests")
			flags.BoolVar(&publish, "publish", false, "allow publishing packaged artifacts")
			flags.BoolVar(&breakGlass, "break-glass", false, "emergency grant; lifetime clamped to the break-glass ceiling")
			return flags
		},
		Examples: []cli.Example{
			{
				Description: "Staging deploys for one project, one day",
				Command:     "autosd preauth create-grant --project-ids billing --auto-deploy-staging --expires-in-hours 24",
			},
			{
				Description: "Emergency prod access, clamped to the ceiling",
				Command:     "autosd preauth create-grant --project-ids billing --auto-deploy-prod --break-glass --expires-in-hours 100 --reference INC-4812",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("create-grant takes no arguments; use flags")
			}

			var capabilities []preauth.Capability
			for _, c := range []struct {
				set bool
				cap preauth.Capability
			}{
				{autoDeployDev, preauth.CapDeployDev},
				{autoDeployStage, preauth.CapDeployStaging},
				{autoDeployProd, preauth.CapDeployProd},
				{autoRollback, preauth.CapRollback},
				{autoPush, preauth.CapAutoPush},
				{autoMerge, preauth.CapAutoMerge},
				{publish, preauth.CapPublish},
				{breakGlass, preauth.CapBreakGlass},
			} {
				if c.set {
					capabilities = append(capabilities, c.cap)
				}
			}

			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			grant, err := r.issuer.Issue(ctx, preauth.IssueRequest{
				Projects:         projectIDs,
				Capabilities:     capabilities,
				TTL:              time.Duration(expiresInHours) * time.Hour,
				Issuer:           issuerName,
				NoAutoDeployProd: noAutoDeployProd,
				References:       references,
			})
			switch {
			case errors.Is(err, preauth.ErrEmptyProjects):
				return cli.Validation("--project-ids is required")
			case errors.Is(err, preauth.ErrNoCapabilities):
				return cli.Validation("at least one capability flag is required")
			case errors.Is(err, preauth.ErrWildcardScope):
				return cli.Validation("'*' must be the only project id")
			case errors.Is(err, preauth.ErrConflictingCapabilities):
				return cli.Validation("--auto-deploy-prod conflicts with --no-auto-deploy-prod")
			case errors.Is(err, preauth.ErrInvalidTTL):
				return cli.Validation("invalid --expires-in-hours: %v", err)
			case err != nil:
				return cli.Internal("issuing grant: %v", err)
			}

			fmt.Printf("grant %s issued\n", grant.ID)
			fmt.Printf("  projects:     %s\n", strings.Join(grant.Projects, ", "))
			fmt.Printf("  capabilities: %s\n", strings.Join(grant.Capabilities.Strings(), ", "))
			fmt.Printf("  expires:      %s\n", time.Unix(grant.ExpiresAt, 0).UTC().Format(time.RFC3339))
			if grant.TTL() != time.Duration(expiresInHours)*time.Hour {
				fmt.Printf("  note:         lifetime clamped to %s (break-glass ceiling)\n", grant.TTL())
			}
			return nil
		},
	}
}
