// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for autosd wire
// and storage formats. Grant payloads are signed over their encoded
// bytes, so every component that encodes a payload must produce the
// exact same bytes for the same logical value. All encoding goes
// through this package; nothing else in the repository imports the
// CBOR library directly.
package codec
