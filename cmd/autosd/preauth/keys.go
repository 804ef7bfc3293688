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

func initKeysCommand() *cli.Command {
	var configPath string
	var recipients []string

	return &cli.Command{
		Name:    "init-keys",
		Summary: "Generate the grant-signing keypair",
		Description: `Generate the Ed25519 grant-signing keypair.

Fails if keys already exist; use rotate-keys to replace a key without
losing the ability to verify grants it signed. With
--escrow-recipient, an age-encrypted copy of the private key is
written for disaster recovery.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("init-keys", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.StringArrayVar(&recipients, "escrow-recipient", nil, "age recipient (age1...) for key escrow; repeatable")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("init-keys takes no arguments")
			}
			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			keyID, err := r.keyring.Init()
			if errors.Is(err, preauth.ErrAlreadyInitialized) {
				return cli.Conflict("signing keys already exist; use 'autosd preauth rotate-keys' to replace them")
			}
			if err != nil {
				return cli.Internal("generating keys: %v", err)
			}

			fmt.Printf("signing key initialized (key id %s)\n", keyID)
			fmt.Printf("public key: %s\n", r.keyring.PublicKeyPath())
			return escrowKeys(r, recipients, logger)
		},
	}
}

func rotateKeysCommand() *cli.Command {
	var configPath string
	var recipients []string

	return &cli.Command{
		Name:    "rotate-keys",
		Summary: "Rotate the grant-signing keypair",
		Description: `Generate a new signing keypair and retire the current one.

The retired public key stays in the verification set for the
configured grace window, so unexpired grants it signed keep
verifying. New grants are signed with the new key immediately.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("rotate-keys", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "path to autosd config file")
			flags.StringArrayVar(&recipients, "escrow-recipient", nil, "age recipient (age1...) for key escrow; repeatable")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return cli.Validation("rotate-keys takes no arguments")
			}
			r, err := openRuntime(configPath, logger)
			if err != nil {
				return err
			}
			defer r.Close()

			keyID, err := r.keyring.Rotate()
			if errors.Is(err, preauth.ErrNotInitialized) {
				return cli.Conflict("no signing keys to rotate; run 'autosd preauth init-keys' first")
			}
			if err != nil {
				return cli.Internal("rotating keys: %v", err)
			}

			if err := r.audit.Append(audit.Record{
				Action: "key_rotate",
				Result: "rotated",
			}); err != nil {
				return cli.Internal("recording rotation: %v", err)
			}

			fmt.Printf("signing key rotated (new key id %s)\n", keyID)
			return escrowKeys(r, recipients, logger)
		},
	}
}
