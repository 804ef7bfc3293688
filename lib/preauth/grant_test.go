// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	return public, private
}

func testPayload() *Payload {
	return &Payload{
		ID:           "0123456789abcdef0123456789abcdef",
		Projects:     []string{"billing"},
		Capabilities: NewCapabilitySet(CapDeployStaging),
		IssuedAt:     testStart.Unix(),
		ExpiresAt:    testStart.Add(24 * time.Hour).Unix(),
		KeyID:        "deadbeefdeadbeef",
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	public, private := testKeypair(t)
	raw, signature, err := SignPayload(private, testPayload())
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	if !VerifyPayloadSignature(public, raw, signature) {
		t.Error("signature does not verify under the signing key")
	}

	other, _ := testKeypair(t)
	if VerifyPayloadSignature(other, raw, signature) {
		t.Error("signature verifies under an unrelated key")
	}
}

func TestSingleBitTamperInvalidatesSignature(t *testing.T) {
	public, private := testKeypair(t)
	raw, signature, err := SignPayload(private, testPayload())
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}

	for _, position := range []int{0, len(raw) / 2, len(raw) - 1} {
		tampered := append([]byte(nil), raw...)
		tampered[position] ^= 0x01
		if VerifyPayloadSignature(public, tampered, signature) {
			t.Errorf("signature verifies after flipping bit at byte %d", position)
		}
	}

	badSig := append([]byte(nil), signature...)
	badSig[10] ^= 0x01
	if VerifyPayloadSignature(public, raw, badSig) {
		t.Error("tampered signature verifies")
	}

	if VerifyPayloadSignature(public, raw, signature[:32]) {
		t.Error("truncated signature verifies")
	}
}

func TestDeterministicEncoding(t *testing.T) {
	first, err := encodePayload(testPayload())
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := encodePayload(testPayload())
		if err != nil {
			t.Fatalf("encodePayload: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("encoding differs on iteration %d", i)
		}
	}
}

func TestInScope(t *testing.T) {
	tests := []struct {
		name     string
		projects []string
		project  string
		want     bool
	}{
		{"exact match", []string{"billing"}, "billing", true},
		{"among several", []string{"api", "billing", "web"}, "billing", true},
		{"not listed", []string{"api", "web"}, "billing", false},
		{"wildcard", []string{"*"}, "anything", true},
		{"empty scope", nil, "billing", false},
		{"no partial match", []string{"billing-v2"}, "billing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := &Grant{Payload: Payload{Projects: tt.projects}}
			if got := grant.InScope(tt.project); got != tt.want {
				t.Errorf("InScope(%q) = %v, want %v", tt.project, got, tt.want)
			}
		})
	}
}

func TestExpiredWithSkew(t *testing.T) {
	grant := &Grant{Payload: Payload{
		IssuedAt:  testStart.Unix(),
		ExpiresAt: testStart.Add(time.Hour).Unix(),
	}}

	tests := []struct {
		name string
		now  time.Time
		skew time.Duration
		want bool
	}{
		{"well before expiry", testStart.Add(30 * time.Minute), 0, false},
		{"one second before", testStart.Add(time.Hour - time.Second), 0, false},
		{"exactly at expiry", testStart.Add(time.Hour), 0, true},
		{"after expiry", testStart.Add(2 * time.Hour), 0, true},
		{"skew keeps it alive", testStart.Add(time.Hour + 20*time.Second), 30 * time.Second, false},
		{"past skew window", testStart.Add(time.Hour + 31*time.Second), 30 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := grant.Expired(tt.now, tt.skew); got != tt.want {
				t.Errorf("Expired(%v, %v) = %v, want %v", tt.now, tt.skew, got, tt.want)
			}
		})
	}
}

func TestDecodeGrantPreservesRawBytes(t *testing.T) {
	_, private := testKeypair(t)
	raw, signature, err := SignPayload(private, testPayload())
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}
	grant, err := DecodeGrant(raw, signature)
	if err != nil {
		t.Fatalf("DecodeGrant: %v", err)
	}
	if string(grant.Raw) != string(raw) {
		t.Error("Raw does not round-trip the signed bytes")
	}
	if grant.ID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("decoded ID = %q", grant.ID)
	}
	if got := grant.TTL(); got != 24*time.Hour {
		t.Errorf("TTL = %v, want 24h", got)
	}
}
