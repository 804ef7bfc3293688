// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

// grantView is the JSON shape for list and show output.
type grantView struct {
	ID           string   `json:"id"`
	Projects     []string `json:"projects"`
	Capabilities []string `json:"capabilities"`
	IssuedAt     string   `json:"issued_at"`
	ExpiresAt    string   `json:"expires_at"`
	KeyID        string   `json:"key_id"`
	Issuer       string   `json:"issuer,omitempty"`
	Status       string   `json:"status"`
}

func viewOf(grant *preauth.Grant, status preauth.Status) grantView {
	return grantView{
		ID:           grant.ID,
		Projects:     grant.Projects,
		Capabilities: grant.Capabilities.Strings(),
		IssuedAt:     time.Unix(grant.IssuedAt, 0).UTC().Format(time.RFC3339),
		ExpiresAt:    time.Unix(grant.ExpiresAt, 0).UTC().Format(time.RFC3339),
		KeyID:        grant.KeyID,
		Issuer:       grant.Issuer,
		Status:       string(status),
	}
}

func listCommand() *cli.Command {
	var configPath string
	var activeOnly, asJSON bool

	return &cli.Command{
		Name:    "list",
		Summary: "List grants and their status",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.BoolVar(&activeOnly, "active-only", false, "hide expired and revoked grants")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("list takes no arguments")
			}
			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			entries, err := r.store.List(ctx, activeOnly)
			if err != nil {
				return cli.Internal("listing grants: %v", err)
			}

			if asJSON {
				views := make([]grantView, 0, len(entries))
				for _, entry := range entries {
					views = append(views, viewOf(entry.Grant, entry.Status))
				}
				return cli.WriteJSON(views)
			}

			if len(entries) == 0 {
				fmt.Println("no grants")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROJECTS\tCAPABILITIES\tEXPIRES")
			for _, entry := range entries {
				grant := entry.Grant
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					grant.ID,
					entry.Status,
					strings.Join(grant.Projects, ","),
					strings.Join(grant.Capabilities.Strings(), ","),
					time.Unix(grant.ExpiresAt, 0).UTC().Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}

func showCommand() *cli.Command {
	var configPath string
	var asJSON bool

	return &cli.Command{
		Name:    "show",
		Summary: "Show one grant in detail",
		Usage:   "autosd preauth show <grant-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("show requires exactly one grant id")
			}
			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			grant, err := r.store.Get(ctx, args[0])
			if err != nil {
				return cli.NotFound("grant %s: %v", args[0], err)
			}
			status, err := r.store.StatusOf(ctx, grant)
			if err != nil {
				return cli.Internal("deriving grant status: %v", err)
			}

			if asJSON {
				return cli.WriteJSON(viewOf(grant, status))
			}

			fmt.Printf("grant %s\n", grant.ID)
			fmt.Printf("  status:       %s\n", status)
			fmt.Printf("  projects:     %s\n", strings.Join(grant.Projects, ", "))
			fmt.Printf("  capabilities: %s\n", strings.Join(grant.Capabilities.Strings(), ", "))
			fmt.Printf("  issued:       %s\n", time.Unix(grant.IssuedAt, 0).UTC().Format(time.RFC3339))
			fmt.Printf("  expires:      %s\n", time.Unix(grant.ExpiresAt, 0).UTC().Format(time.RFC3339))
			fmt.Printf("  key id:       %s\n", grant.KeyID)
			if grant.Issuer != "" {
				fmt.Printf("  issuer:       %s\n", grant.Issuer)
			}
			if status == preauth.StatusRevoked {
				revocation, err := r.store.Revocation(ctx, grant.ID)
				if err == nil && revocation != nil {
					fmt.Printf("  revoked:      %s (%s)\n",
						revocation.RevokedAt.UTC().Format(time.RFC3339), revocation.Reason)
				}
			}
			return nil
		},
	}
}
