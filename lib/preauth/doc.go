// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package preauth implements the preauthorization grant lifecycle:
// signing key management, grant issuance, persistence, revocation,
// and verification.
//
// A grant is an Ed25519-signed, time-boxed, scope-limited capability
// record. The signature covers the deterministic CBOR encoding of the
// grant payload (lib/codec), so any post-signing mutation — a changed
// expiry, an added project, a single flipped bit — makes verification
// fail. Grants are immutable once issued: the only lifecycle
// transitions are Active → Expired (time) and Active → Revoked
// (explicit, recorded in a monotonic ledger that entries never leave).
//
// Verification reads the store fresh on every call. There is no
// revocation cache anywhere in this package; the small I/O cost buys
// the absence of a stale-allow window between a concurrent revoke and
// a verify.
package preauth
