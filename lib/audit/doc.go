// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the append-only JSONL audit trail for
// privileged actions.
//
// Every record is one JSON object on one line, appended under an
// exclusive file lock so concurrent processes interleave at record
// granularity, never mid-line. Each record carries a hash-chain field
// linking it to the previous line, so truncation or in-place edits are
// detectable after the fact. Records are redacted before they hit the
// disk: anything matching a known secret shape is replaced, because an
// audit line, once written, is never modified.
//
// Audit failures never block the action being audited in reverse: a
// record is written before the action proceeds, and if the write fails
// the action is refused. The trail is evidence, and evidence written
// after the fact is worthless.
package audit
