// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	"github.com/autosd-foundation/autosd/lib/audit"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

func revokeCommand() *cli.Command {
	var configPath, reason string

	return &cli.Command{
		Name:    "revoke",
		Summary: "Revoke a grant",
		Usage:   "autosd preauth revoke <grant-id> [flags]",
		Description: `Add a grant to the revocation ledger.

Revocation takes effect on the next verification — there is no
propagation delay and no cache to expire. Revoking an already-revoked
grant is a no-op success. The ledger is append-only; a revocation
cannot be undone, only superseded by issuing a new grant.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.StringVar(&reason, "reason", "", "why the grant is being revoked")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("revoke requires exactly one grant id")
			}
			grantID := args[0]

			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			// Unknown ids are accepted into the ledger (a revocation
			// can land before a replicated grant does), but warn the
			// operator about a likely typo.
			if _, err := r.store.Get(ctx, grantID); errors.Is(err, preauth.ErrGrantNotFound) {
				logger.Warn("revoking a grant id not present in the store", "grant_id", grantID)
			}

			if err := r.store.Revoke(ctx, grantID, reason); err != nil {
				return cli.Internal("revoking grant: %v", err)
			}
			if err := r.audit.Append(audit.Record{
				Action:     "grant_revoke",
				GrantID:    grantID,
				Result:     "revoked",
				References: referencesFor(reason),
			}); err != nil {
				return cli.Internal("recording revocation: %v", err)
			}

			fmt.Printf("grant %s revoked\n", grantID)
			return nil
		},
	}
}

func referencesFor(reason string) []string {
	if reason == "" {
		return nil
	}
	return []string{"reason: " + reason}
}
