// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

func ensureCommand() *cli.Command {
	var configPath, project, grantID string

	return &cli.Command{
		Name:    "ensure",
		Summary: "Write a project's grant reference file",
		Description: `Write the project-local grant reference.

The reference file (.autosd/preauth_grant_ref.json) points tools
inside the project tree at the grant that authorizes them. It names
the grant id, the store path, and the public key path — never any key
material or signature. The grant must exist and be active.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("ensure", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.StringVar(&project, "project", "", "project id (directory under the projects root)")
			flags.StringVar(&grantID, "grant", "", "grant id to reference")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("ensure takes no arguments; use flags")
			}
			if project == "" || grantID == "" {
				return cli.Validation("--project and --grant are required")
			}

			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			grant, err := r.store.Get(ctx, grantID)
			if errors.Is(err, preauth.ErrGrantNotFound) {
				return cli.NotFound("grant %s not found", grantID)
			}
			if err != nil {
				return cli.Internal("loading grant: %v", err)
			}

			status, err := r.store.StatusOf(ctx, grant)
			if err != nil {
				return cli.Internal("deriving grant status: %v", err)
			}
			if status != preauth.StatusActive {
				return cli.Conflict("grant %s is %s; reference a grant that is active", grantID, status)
			}
			if !grant.InScope(project) {
				return cli.Validation("grant %s does not cover project %s", grantID, project)
			}

			projectDir := filepath.Join(r.cfg.Paths.Projects, project)
			err = preauth.WriteReference(projectDir, preauth.GrantReference{
				GrantID:       grant.ID,
				StorePath:     r.cfg.Paths.Store,
				PublicKeyPath: r.keyring.PublicKeyPath(),
			})
			if err != nil {
				return cli.Internal("writing grant reference: %v", err)
			}

			fmt.Printf("reference written to %s\n", preauth.ReferencePath(projectDir))
			return nil
		},
	}
}
