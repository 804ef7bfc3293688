// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether an automated action may proceed.
//
// A decision merges three layers: built-in defaults, a per-project
// policy file, and an optional preauthorization grant. The layers are
// strictly ordered — the project file loosens or tightens defaults,
// and a verified grant overrides both for the capabilities it names.
// One rule is global and cannot be configured away: production-
// impacting actions never proceed on defaults alone. Production
// always requires a verified grant.
//
// Every denial carries a stable machine-readable reason and a CLI
// error code, so calling agents can branch on outcomes without parsing
// prose.
package policy
