// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

// Seal compresses the active log into a zstd segment under sealed/
// and starts a fresh active file whose first record chains to the
// sealed segment's final line. The hash chain is therefore continuous
// across segments: verifying a segment yields the head for the next.
//
// The whole sequence runs under the same exclusive flock that Append
// takes, so a record appended by another process lands either before
// the read (sealed with the rest) or after the seal record (chained to
// it) — never in the window between read and truncate.
//
// Returns the segment path, or "" if the active log was empty.
func (l *Logger) Seal() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("audit: opening log for sealing: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("audit: locking log: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("audit: reading log for sealing: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil
	}

	sealedDir := filepath.Join(filepath.Dir(l.path), "sealed")
	if err := os.MkdirAll(sealedDir, 0700); err != nil {
		return "", fmt.Errorf("audit: creating sealed directory: %w", err)
	}

	stamp := l.clock.Now().UTC().Format("20060102T150405Z")
	segment := filepath.Join(sealedDir, fmt.Sprintf("audit-%s.jsonl.zst", stamp))
	if err := compressTo(segment, data); err != nil {
		return "", err
	}

	// The final line's hash becomes the chain head of the new active
	// file. The seal record is written under the lock held above, so it
	// is the first entry no matter what other processes are doing.
	tail := bytes.TrimRight(data, "\n")
	if idx := bytes.LastIndexByte(tail, '\n'); idx >= 0 {
		tail = tail[idx+1:]
	}
	record := Record{
		Timestamp:  l.clock.Now().UTC().Format(time.RFC3339),
		Action:     "audit_seal",
		Result:     "sealed",
		References: []string{filepath.Base(segment)},
		Chain:      lineHash(tail),
	}
	redactRecord(&record)
	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("audit: encoding seal record: %w", err)
	}
	line = append(line, '\n')

	if err := f.Truncate(0); err != nil {
		return "", fmt.Errorf("audit: truncating sealed log: %w", err)
	}
	if _, err := f.WriteAt(line, 0); err != nil {
		return "", fmt.Errorf("audit: writing seal record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("audit: syncing seal record: %w", err)
	}

	l.size = int64(len(line))
	l.lastHash = lineHash(line[:len(line)-1])
	l.scanned = true

	l.logger.Info("audit segment sealed", "segment", segment)
	return segment, nil
}

func compressTo(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: creating segment: %w", err)
	}
	defer f.Close()

	buffered := bufio.NewWriter(f)
	encoder, err := zstd.NewWriter(buffered)
	if err != nil {
		return fmt.Errorf("audit: creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return fmt.Errorf("audit: compressing segment: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("audit: finalizing segment: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("audit: flushing segment: %w", err)
	}
	return f.Sync()
}

// VerifySealedSegment decompresses a sealed segment and verifies its
// hash chain starting from head. Returns the record count and the
// chain head for whatever follows the segment.
func VerifySealedSegment(path, head string) (records int, tail string, err error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("audit: reading sealed segment: %w", err)
	}
	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return 0, "", fmt.Errorf("audit: creating zstd decoder: %w", err)
	}
	defer decoder.Close()
	return verifyChainReader(bufio.NewScanner(decoder), head)
}
