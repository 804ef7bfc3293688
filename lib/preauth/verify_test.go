// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/autosd-foundation/autosd/lib/clock"
)

func TestVerifyHappyPath(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)

	verdict, got, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictOK {
		t.Errorf("verdict = %s, want ok", verdict)
	}
	if !verdict.Allowed() {
		t.Error("Allowed() = false for ok verdict")
	}
	if got == nil || got.ID != grant.ID {
		t.Error("Verify did not return the grant")
	}
}

func TestVerifyUnknownGrant(t *testing.T) {
	h := newHarness(t)
	verdict, grant, err := h.verifier.Verify(t.Context(), "no-such-grant", "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictNotFound {
		t.Errorf("verdict = %s, want grant_not_found", verdict)
	}
	if grant != nil {
		t.Error("grant returned for unknown id")
	}
}

func TestVerifyRevokedGrant(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)
	if err := h.store.Revoke(t.Context(), grant.ID, "rotation incident"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictRevoked {
		t.Errorf("verdict = %s, want grant_revoked", verdict)
	}
}

func TestVerifyExpiredGrant(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)
	h.clock.Advance(24*time.Hour + time.Second)
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictExpired {
		t.Errorf("verdict = %s, want grant_expired", verdict)
	}
}

func TestVerifyScopeMismatch(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "payments", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictScopeMismatch {
		t.Errorf("verdict = %s, want scope_mismatch", verdict)
	}
}

func TestVerifyCapabilityMismatch(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployProd)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictCapabilityMismatch {
		t.Errorf("verdict = %s, want capability_mismatch", verdict)
	}
}

func TestVerifyWildcardScope(t *testing.T) {
	h := newHarness(t)
	grant, err := h.issuer.Issue(t.Context(), IssueRequest{
		Projects:     []string{WildcardScope},
		Capabilities: []Capability{CapRollback},
		TTL:          time.Hour,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "any-project-at-all", CapRollback)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictOK {
		t.Errorf("verdict = %s, want ok under wildcard scope", verdict)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)

	// Flip one bit in the stored payload bytes and verify directly
	// against the tampered copy.
	tampered := &Grant{
		Payload:   grant.Payload,
		Raw:       append([]byte(nil), grant.Raw...),
		Signature: grant.Signature,
	}
	tampered.Raw[len(tampered.Raw)/2] ^= 0x01
	valid, err := h.verifier.signatureValid(tampered)
	if err != nil {
		t.Fatalf("signatureValid: %v", err)
	}
	if valid {
		t.Error("tampered payload passed signature check")
	}

	badSig := &Grant{
		Payload:   grant.Payload,
		Raw:       grant.Raw,
		Signature: append([]byte(nil), grant.Signature...),
	}
	badSig.Signature[5] ^= 0x01
	valid, err = h.verifier.signatureValid(badSig)
	if err != nil {
		t.Fatalf("signatureValid: %v", err)
	}
	if valid {
		t.Error("tampered signature passed signature check")
	}
}

func TestVerifyUnreadableKeyringIsError(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)

	// With the verification keys gone, Verify must fail with an error
	// instead of judging the grant. A signature_invalid verdict here
	// would misreport a storage problem as a forged grant.
	if err := os.Remove(h.keyring.PublicKeyPath()); err != nil {
		t.Fatalf("removing public key: %v", err)
	}

	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err == nil {
		t.Fatalf("Verify succeeded with verdict %s, want error", verdict)
	}
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
	if verdict == VerdictSignatureInvalid {
		t.Error("keyring failure reported as signature_invalid")
	}
}

func TestVerifyRevokedWinsOverExpired(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)
	if err := h.store.Revoke(t.Context(), grant.ID, "test"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	h.clock.Advance(48 * time.Hour)

	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictRevoked {
		t.Errorf("verdict = %s, want grant_revoked to win over expiry", verdict)
	}
}

func TestVerifyExpiredWinsOverScopeMismatch(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)
	h.clock.Advance(48 * time.Hour)

	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "payments", CapDeployProd)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictExpired {
		t.Errorf("verdict = %s, want grant_expired to win over scope mismatch", verdict)
	}
}

func TestVerifyAcrossKeyRotation(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)

	if _, err := h.keyring.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Inside the retired key's grace window the old grant still
	// verifies.
	h.clock.Advance(time.Hour)
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictOK {
		t.Errorf("verdict = %s, want ok inside grace window", verdict)
	}

	// A grant signed by the new key verifies too.
	fresh := h.issue(t, "billing", CapDeployStaging)
	verdict, _, err = h.verifier.Verify(t.Context(), fresh.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictOK {
		t.Errorf("fresh grant verdict = %s, want ok", verdict)
	}
}

func TestVerifyAfterGraceWindowLapses(t *testing.T) {
	h := newHarness(t)

	// Issue with a long TTL, rotate immediately, then jump past the
	// grace window. The grant is expired by then (the grace window is
	// at least the maximum TTL), so expiry cannot mask the key
	// question: check that the signature fails first in the order.
	grant := h.issue(t, "billing", CapDeployStaging)
	if _, err := h.keyring.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	h.clock.Advance(testGrace + time.Hour)

	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictSignatureInvalid {
		t.Errorf("verdict = %s, want signature_invalid once the key is gone", verdict)
	}
}

func TestVerifySkewTolerance(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)

	tolerant, err := NewVerifier(VerifierConfig{
		Store:         h.store,
		Keyring:       h.keyring,
		SkewTolerance: time.Minute,
		Clock:         h.clock,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	// Thirty seconds past expiry: the strict verifier rejects, the
	// tolerant one accepts.
	h.clock.Advance(24*time.Hour + 30*time.Second)
	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictExpired {
		t.Errorf("strict verdict = %s, want grant_expired", verdict)
	}
	verdict, _, err = tolerant.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictOK {
		t.Errorf("tolerant verdict = %s, want ok within skew", verdict)
	}

	// Past the tolerance both reject.
	h.clock.Advance(time.Minute)
	verdict, _, err = tolerant.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictExpired {
		t.Errorf("tolerant verdict past window = %s, want grant_expired", verdict)
	}
}

func TestVerifyFreshRevocationRead(t *testing.T) {
	h := newHarness(t)
	grant := h.issue(t, "billing", CapDeployStaging)

	verdict, _, err := h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil || verdict != VerdictOK {
		t.Fatalf("pre-revocation verdict = %s, err = %v", verdict, err)
	}

	// Revoke through a separate store handle, simulating another
	// process. The very next Verify must see it.
	other, err := OpenStore(StoreConfig{
		Path:  h.store.Path(),
		Clock: clock.Fake(testStart),
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer other.Close()
	if err := other.Revoke(t.Context(), grant.ID, "incident"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	verdict, _, err = h.verifier.Verify(t.Context(), grant.ID, "billing", CapDeployStaging)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict != VerdictRevoked {
		t.Errorf("verdict = %s, want grant_revoked immediately after external revoke", verdict)
	}
}
