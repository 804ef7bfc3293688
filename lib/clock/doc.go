// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source. Expiry and grace
// window checks are security decisions; tests must be able to place
// them at exact instants rather than racing the wall clock.
package clock
