// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-tree framework for the autosd
// binary: command dispatch with typo suggestions, structured help,
// categorized errors, exit-code control, and JSON output helpers.
//
// Commands are plain structs assembled into a tree; flags are
// spf13/pflag flag sets built lazily per command. The framework stays
// out of the way of command logic: a command gets a context, its
// post-flag args, and a logger, and returns an error.
package cli
