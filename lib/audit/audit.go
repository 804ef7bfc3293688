// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/autosd-foundation/autosd/lib/clock"
)

// Record is one audit trail entry. All string fields pass through
// redaction before the record is written.
type Record struct {
	// Timestamp is the record time in RFC 3339 UTC. Filled by the
	// logger at append time; caller-supplied values are overwritten.
	Timestamp string `json:"timestamp"`

	// Action names the privileged operation: "deploy", "promote",
	// "rollback", "merge", "publish", "grant_create", "grant_revoke",
	// "key_rotate", "audit_seal".
	Action string `json:"action"`

	// Project is the project id the action targets, if any.
	Project string `json:"project,omitempty"`

	// GrantID is the grant that authorized the action, if one did.
	GrantID string `json:"grant_id,omitempty"`

	// Result is the outcome: "allowed", "denied", "issued", "revoked",
	// "succeeded", "failed", "sealed".
	Result string `json:"result"`

	// References carries free-form context such as ticket ids, denial
	// reasons, or clamp notes.
	References []string `json:"references,omitempty"`

	// BreakGlass marks records produced under emergency authorization,
	// so they can be filtered for mandatory post-hoc review.
	BreakGlass bool `json:"break_glass,omitempty"`

	// Chain is the hex BLAKE3 hash of the previous record's line
	// bytes, or empty for the first record of the trail. Set by the
	// logger; caller-supplied values are overwritten.
	Chain string `json:"chain"`
}

// Config holds the parameters for opening an audit logger.
type Config struct {
	// Path is the active audit log file. Parent directories are
	// created on first append. Sealed segments live in a sealed/
	// directory next to it.
	Path string

	// Clock provides record timestamps.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Logger appends records to the audit trail. Safe for concurrent use
// within a process (mutex) and across processes (flock).
type Logger struct {
	path   string
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex

	// size and lastHash track the active file as of our last append.
	// If another process appended in between, the size check catches
	// it and the tail is rescanned before chaining.
	size     int64
	lastHash string
	scanned  bool
}

// Open prepares an audit logger. The log file itself is created
// lazily on first append.
func Open(cfg Config) (*Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: log path is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("audit: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Logger{path: cfg.Path, clock: cfg.Clock, logger: logger}, nil
}

// Path returns the active audit log file path.
func (l *Logger) Path() string {
	return l.path
}

// Append writes one record to the trail. The logger fills Timestamp
// and Chain, redacts every string field, and appends the line under an
// exclusive lock. An error here means the record is not durably on
// disk and the caller must not proceed with the audited action.
func (l *Logger) Append(record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("audit: creating log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("audit: opening log: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("audit: locking log: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("audit: stat log: %w", err)
	}
	if !l.scanned || info.Size() != l.size {
		if err := l.rescanLocked(info.Size()); err != nil {
			return err
		}
	}

	record.Timestamp = l.clock.Now().UTC().Format(time.RFC3339)
	record.Chain = l.lastHash
	redactRecord(&record)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: encoding record: %w", err)
	}
	line = append(line, '\n')

	n, err := f.Write(line)
	if err != nil {
		return fmt.Errorf("audit: appending record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: syncing log: %w", err)
	}

	l.size += int64(n)
	l.lastHash = lineHash(line[:len(line)-1])
	return nil
}

// rescanLocked recomputes size and lastHash from the file on disk.
// Called when another process has appended since our last write, or on
// the first append of this process. Caller holds mu and the flock.
func (l *Logger) rescanLocked(size int64) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("audit: rescanning log: %w", err)
	}
	l.size = size
	l.lastHash = ""
	l.scanned = true

	trimmed := bytes.TrimRight(data, "\n")
	if len(trimmed) == 0 {
		return nil
	}
	if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	l.lastHash = lineHash(trimmed)
	return nil
}

// lineHash hashes one record line (without its trailing newline).
func lineHash(line []byte) string {
	sum := blake3.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that every record in a log file chains to its
// predecessor, starting from head (empty for the first segment of a
// trail). It returns the number of records verified and the hash of
// the final line, which is the head for the next segment.
func VerifyChain(path, head string) (records int, tail string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("audit: opening log for verification: %w", err)
	}
	defer f.Close()
	return verifyChainReader(bufio.NewScanner(f), head)
}

func verifyChainReader(scanner *bufio.Scanner, head string) (int, string, error) {
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	records := 0
	expected := head
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return records, expected, fmt.Errorf("audit: record %d is not valid JSON: %w", records+1, err)
		}
		if record.Chain != expected {
			return records, expected, fmt.Errorf("audit: record %d chain mismatch: have %q, want %q", records+1, record.Chain, expected)
		}
		expected = lineHash(line)
		records++
	}
	if err := scanner.Err(); err != nil {
		return records, expected, fmt.Errorf("audit: reading log: %w", err)
	}
	return records, expected, nil
}
