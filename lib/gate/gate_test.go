// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/autosd-foundation/autosd/lib/audit"
	"github.com/autosd-foundation/autosd/lib/clock"
	"github.com/autosd-foundation/autosd/lib/policy"
	"github.com/autosd-foundation/autosd/lib/preauth"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type harness struct {
	gate      *Gate
	store     *preauth.Store
	issuer    *preauth.Issuer
	resolver  *policy.Resolver
	clock     *clock.FakeClock
	auditPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	fake := clock.Fake(testStart)

	keyring, err := preauth.OpenKeyring(preauth.KeyringConfig{
		Dir:         filepath.Join(dir, "preauth"),
		GraceWindow: 96 * time.Hour,
		Clock:       fake,
	})
	if err != nil {
		t.Fatalf("OpenKeyring: %v", err)
	}
	if _, err := keyring.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	store, err := preauth.OpenStore(preauth.StoreConfig{
		Path:  filepath.Join(dir, "grants.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auditPath := filepath.Join(dir, "audit.jsonl")
	auditLog, err := audit.Open(audit.Config{Path: auditPath, Clock: fake})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	issuer, err := preauth.NewIssuer(preauth.IssuerConfig{
		Keyring:           keyring,
		Store:             store,
		Audit:             auditLog,
		MaxTTL:            72 * time.Hour,
		BreakGlassCeiling: 2 * time.Hour,
		Clock:             fake,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	verifier, err := preauth.NewVerifier(preauth.VerifierConfig{
		Store:   store,
		Keyring: keyring,
		Clock:   fake,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	resolver, err := policy.NewResolver(policy.ResolverConfig{
		Verifier:     verifier,
		ProjectsRoot: filepath.Join(dir, "projects"),
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	g, err := New(Config{Resolver: resolver, Audit: auditLog})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &harness{gate: g, store: store, issuer: issuer, resolver: resolver, clock: fake, auditPath: auditPath}
}

func (h *harness) records(t *testing.T) []audit.Record {
	t.Helper()
	f, err := os.Open(h.auditPath)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()
	var records []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("parsing audit record: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func TestRunAllowedAction(t *testing.T) {
	h := newHarness(t)

	ran := false
	err := h.gate.Run(t.Context(), Request{
		Action:      policy.ActionDeploy,
		Project:     "billing",
		Environment: "dev",
		References:  []string{"build 1234"},
	}, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("allowed action did not run")
	}

	records := h.records(t)
	if len(records) != 2 {
		t.Fatalf("got %d audit records, want decision + outcome", len(records))
	}
	if records[0].Result != "allowed" || records[1].Result != "succeeded" {
		t.Errorf("results = %q, %q", records[0].Result, records[1].Result)
	}
	if records[0].Action != "deploy" || records[0].Project != "billing" {
		t.Errorf("decision record = %+v", records[0])
	}
}

func TestRunDeniedAction(t *testing.T) {
	h := newHarness(t)

	ran := false
	err := h.gate.Run(t.Context(), Request{
		Action:      policy.ActionDeploy,
		Project:     "billing",
		Environment: "prod",
	}, func(context.Context) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("prod deploy without grant succeeded")
	}
	if ran {
		t.Fatal("denied action ran anyway")
	}
	if !IsDenied(err) {
		t.Fatalf("err = %v, want DeniedError", err)
	}
	var denied *DeniedError
	errors.As(err, &denied)
	if denied.Code != policy.CodePreauthRequired {
		t.Errorf("code = %q, want %s", denied.Code, policy.CodePreauthRequired)
	}

	records := h.records(t)
	if len(records) != 1 || records[0].Result != "denied" {
		t.Errorf("denial records = %+v", records)
	}
}

func TestRunDenialAuditFailureSurfaces(t *testing.T) {
	h := newHarness(t)

	// An audit path that is a directory makes every Append fail, so the
	// denial decision cannot be recorded.
	badPath := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := os.MkdirAll(badPath, 0700); err != nil {
		t.Fatal(err)
	}
	brokenLog, err := audit.Open(audit.Config{Path: badPath, Clock: h.clock})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	g, err := New(Config{Resolver: h.resolver, Audit: brokenLog})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ran := false
	err = g.Run(t.Context(), Request{
		Action:      policy.ActionDeploy,
		Project:     "billing",
		Environment: "prod",
	}, func(context.Context) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("denied action with broken audit log returned nil")
	}
	if ran {
		t.Fatal("denied action ran anyway")
	}
	// Both the denial and the recording failure must be visible in the
	// returned error.
	if !IsDenied(err) {
		t.Errorf("err = %v, want DeniedError to be detectable", err)
	}
	if !strings.Contains(err.Error(), "recording denial") {
		t.Errorf("err = %v, want the audit failure surfaced", err)
	}
}

func TestRunActionFailureAudited(t *testing.T) {
	h := newHarness(t)

	boom := errors.New("deploy pipeline exploded")
	err := h.gate.Run(t.Context(), Request{
		Action:      policy.ActionDeploy,
		Project:     "billing",
		Environment: "dev",
	}, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want the action's error", err)
	}
	if IsDenied(err) {
		t.Error("action failure misreported as denial")
	}

	records := h.records(t)
	if len(records) != 2 || records[1].Result != "failed" {
		t.Errorf("records = %+v, want allowed + failed", records)
	}
}

func TestRevocationBetweenRunsDenies(t *testing.T) {
	h := newHarness(t)
	grant, err := h.issuer.Issue(t.Context(), preauth.IssueRequest{
		Projects:     []string{"billing"},
		Capabilities: []preauth.Capability{preauth.CapDeployProd},
		TTL:          time.Hour,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := Request{
		Action:      policy.ActionDeploy,
		Project:     "billing",
		Environment: "prod",
		GrantID:     grant.ID,
	}
	if err := h.gate.Run(t.Context(), req, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	if err := h.store.Revoke(t.Context(), grant.ID, "incident"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	err = h.gate.Run(t.Context(), req, func(context.Context) error {
		t.Fatal("action ran on a revoked grant")
		return nil
	})
	if !IsDenied(err) {
		t.Fatalf("err = %v, want denial after revocation", err)
	}
}

func TestBreakGlassFlagPropagatesToAudit(t *testing.T) {
	h := newHarness(t)
	grant, err := h.issuer.Issue(t.Context(), preauth.IssueRequest{
		Projects:     []string{"billing"},
		Capabilities: []preauth.Capability{preauth.CapDeployProd, preauth.CapBreakGlass},
		TTL:          time.Hour,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	err = h.gate.Run(t.Context(), Request{
		Action:      policy.ActionDeploy,
		Project:     "billing",
		Environment: "prod",
		GrantID:     grant.ID,
	}, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	records := h.records(t)
	// Skip the issuance record; the decision and outcome must both be
	// flagged.
	decision, outcome := records[len(records)-2], records[len(records)-1]
	if !decision.BreakGlass || !outcome.BreakGlass {
		t.Errorf("break-glass not flagged: decision=%v outcome=%v",
			decision.BreakGlass, outcome.BreakGlass)
	}
}
