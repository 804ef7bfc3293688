// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import "regexp"

// secretPatterns match material that must never land in the audit
// trail. Lines are immutable once written, so redaction happens before
// the append, not as cleanup.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)\s*[=:]\s*\S+`),
	regexp.MustCompile(`AGE-SECRET-KEY-1[A-Z0-9]+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces anything resembling secret material with a
// placeholder.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

func redactRecord(record *Record) {
	record.Action = Redact(record.Action)
	record.Project = Redact(record.Project)
	record.GrantID = Redact(record.GrantID)
	record.Result = Redact(record.Result)
	for i, ref := range record.References {
		record.References[i] = Redact(ref)
	}
}
