// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the current time for testability. Production code
// injects Real(); tests inject a Fake with deterministic control.
//
// Every function that compares a grant expiry, records an audit
// timestamp, or decides whether a retired key's grace window has
// lapsed takes a Clock instead of calling time.Now directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}
