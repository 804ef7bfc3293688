// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/autosd-foundation/autosd/lib/audit"
	"github.com/autosd-foundation/autosd/lib/clock"
)

// testStart is the fake clock origin shared by the package tests.
var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// harness wires a keyring, store, audit logger, issuer, and verifier
// over a temp directory and a shared fake clock.
type harness struct {
	dir      string
	clock    *clock.FakeClock
	keyring  *Keyring
	store    *Store
	audit    *audit.Logger
	issuer   *Issuer
	verifier *Verifier
}

const (
	testMaxTTL  = 72 * time.Hour
	testCeiling = 2 * time.Hour
	testGrace   = 96 * time.Hour
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	fake := clock.Fake(testStart)

	keyring, err := OpenKeyring(KeyringConfig{
		Dir:         dir,
		GraceWindow: testGrace,
		Clock:       fake,
	})
	if err != nil {
		t.Fatalf("OpenKeyring: %v", err)
	}
	if _, err := keyring.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	store, err := OpenStore(StoreConfig{
		Path:  filepath.Join(dir, "grants.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auditLog, err := audit.Open(audit.Config{
		Path:  filepath.Join(dir, "audit.jsonl"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	issuer, err := NewIssuer(IssuerConfig{
		Keyring:           keyring,
		Store:             store,
		Audit:             auditLog,
		MaxTTL:            testMaxTTL,
		BreakGlassCeiling: testCeiling,
		Clock:             fake,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	verifier, err := NewVerifier(VerifierConfig{
		Store:   store,
		Keyring: keyring,
		Clock:   fake,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	return &harness{
		dir:      dir,
		clock:    fake,
		keyring:  keyring,
		store:    store,
		audit:    auditLog,
		issuer:   issuer,
		verifier: verifier,
	}
}

// issue creates a simple 24h grant for one project.
func (h *harness) issue(t *testing.T, project string, caps ...Capability) *Grant {
	t.Helper()
	grant, err := h.issuer.Issue(t.Context(), IssueRequest{
		Projects:     []string{project},
		Capabilities: caps,
		TTL:          24 * time.Hour,
		Issuer:       "test-operator",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return grant
}
