// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/autosd-foundation/autosd/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// WildcardScope in a payload's project list matches every project.
// It must be the only element; the issuer rejects mixed lists.
const WildcardScope = "*"

// Payload is the signed portion of a grant: everything except the
// signature itself. It is encoded with deterministic CBOR (lib/codec)
// and the encoded bytes are what the signature covers. Integer keys
// keep the wire form compact and independent of field renames.
type Payload struct {
	// ID is the unique grant identifier (hex string).
	ID string `cbor:"1,keyasint"`

	// Projects is the subject scope: the project ids this grant
	// applies to, sorted, or the single element "*" for all projects.
	Projects []string `cbor:"2,keyasint"`

	// Capabilities is the canonical (sorted) capability set.
	Capabilities CapabilitySet `cbor:"3,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of issuance.
	IssuedAt int64 `cbor:"4,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which the grant
	// is no longer valid. Always strictly greater than IssuedAt.
	ExpiresAt int64 `cbor:"5,keyasint"`

	// KeyID identifies the signing key, so verification can pick the
	// right public key across rotations.
	KeyID string `cbor:"6,keyasint"`

	// Issuer is the operator name recorded at issuance. Audit
	// metadata only; verification does not interpret it.
	Issuer string `cbor:"7,keyasint,omitempty"`
}

// Grant is a signed preauthorization record as persisted in the grant
// store. Raw holds the exact payload bytes that were signed — the
// store persists and returns these bytes untouched, so verification
// always checks the signature over what is actually on disk, not over
// a re-encoding.
type Grant struct {
	Payload

	// Raw is the deterministic CBOR encoding of Payload at signing
	// time.
	Raw []byte

	// Signature is the detached Ed25519 signature over Raw.
	Signature []byte
}

// InScope reports whether the grant's subject scope contains the
// project.
func (g *Grant) InScope(project string) bool {
	for _, p := range g.Projects {
		if p == WildcardScope || p == project {
			return true
		}
	}
	return false
}

// Expired reports whether the grant is expired as of now, extending
// acceptance by the configured clock-skew tolerance. A zero skew means
// the grant is expired the instant now reaches ExpiresAt.
func (g *Grant) Expired(now time.Time, skew time.Duration) bool {
	return !now.Before(time.Unix(g.ExpiresAt, 0).Add(skew))
}

// TTL returns the grant's issued lifetime.
func (g *Grant) TTL() time.Duration {
	return time.Duration(g.ExpiresAt-g.IssuedAt) * time.Second
}

// encodePayload produces the canonical signed form of a payload.
func encodePayload(payload *Payload) ([]byte, error) {
	raw, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("preauth: encoding grant payload: %w", err)
	}
	return raw, nil
}

// SignPayload encodes the payload canonically and signs it, returning
// the encoded bytes and the detached signature.
func SignPayload(private ed25519.PrivateKey, payload *Payload) (raw, signature []byte, err error) {
	raw, err = encodePayload(payload)
	if err != nil {
		return nil, nil, err
	}
	return raw, ed25519.Sign(private, raw), nil
}

// VerifyPayloadSignature checks a detached signature over the raw
// payload bytes against one public key.
func VerifyPayloadSignature(public ed25519.PublicKey, raw, signature []byte) bool {
	if len(signature) != signatureSize {
		return false
	}
	return ed25519.Verify(public, raw, signature)
}

// DecodeGrant reconstructs a Grant from stored payload bytes and
// signature. The payload is decoded without verifying the signature —
// callers that make authorization decisions must check the signature
// first and treat a decode failure as a forgery, not an I/O error.
func DecodeGrant(raw, signature []byte) (*Grant, error) {
	var payload Payload
	if err := codec.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("preauth: decoding grant payload: %w", err)
	}
	return &Grant{Payload: payload, Raw: raw, Signature: signature}, nil
}

// newGrantID returns a fresh 128-bit random grant id as a hex string.
func newGrantID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("preauth: generating grant id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
