// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/autosd-foundation/autosd/cmd/autosd/cli"
)

func sealAuditCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "seal-audit",
		Summary: "Seal the active audit segment",
		Description: `Compress the active audit log into an immutable sealed segment.

The segment is zstd-compressed under sealed/ next to the audit log,
and a seal record chaining to the segment's final line starts the new
active file. Nothing is truncated or rewritten; the hash chain runs
unbroken across segments.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("seal-audit", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("seal-audit takes no arguments")
			}
			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			segment, err := r.audit.Seal()
			if err != nil {
				return cli.Internal("sealing audit segment: %v", err)
			}
			if segment == "" {
				fmt.Println("audit log is empty; nothing to seal")
				return nil
			}
			fmt.Printf("sealed segment written to %s\n", segment)
			return nil
		},
	}
}
