// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete autosd CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
	policycmd "github.com/autosd-foundation/autosd/cmd/autosd/policy"
	preauthcmd "github.com/autosd-foundation/autosd/cmd/autosd/preauth"
	"github.com/autosd-foundation/autosd/lib/version"
)

// Root builds and returns the complete autosd CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "autosd",
		Description: `autosd: preauthorization and policy enforcement for the delivery agent.

Issue, verify, and revoke signed grants that let the autonomous
delivery agent act without a human in the loop, and inspect the policy
decisions that gate it.`,
		Subcommands: []*cli.Command{
			preauthcmd.Command(),
			policycmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("autosd %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
