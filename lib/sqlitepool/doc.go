// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with the
// pragmas the grant store depends on: WAL journaling for concurrent
// verification reads, full synchronous writes so acknowledged
// revocations survive a crash, and a busy timeout so parallel workers
// queue instead of failing.
package sqlitepool
