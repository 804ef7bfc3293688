// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autosd-foundation/autosd/lib/clock"
)

// Verdict is the outcome of verifying a grant against a requested
// action. The checks run in a fixed order and the first failure wins,
// so a grant that is both revoked and expired always reports revoked.
type Verdict string

const (
	// VerdictOK means the grant authorizes the action.
	VerdictOK Verdict = "ok"

	// VerdictNotFound means the grant id is not in the store.
	VerdictNotFound Verdict = "grant_not_found"

	// VerdictSignatureInvalid means the signature does not verify
	// under any acceptable key. Checked before everything else about
	// the payload: an unverified payload's fields mean nothing.
	VerdictSignatureInvalid Verdict = "signature_invalid"

	// VerdictRevoked means the grant id is in the revocation ledger.
	VerdictRevoked Verdict = "grant_revoked"

	// VerdictExpired means the grant's lifetime has lapsed.
	VerdictExpired Verdict = "grant_expired"

	// VerdictScopeMismatch means the grant does not cover the project.
	VerdictScopeMismatch Verdict = "scope_mismatch"

	// VerdictCapabilityMismatch means the grant covers the project but
	// not the required capability.
	VerdictCapabilityMismatch Verdict = "capability_mismatch"
)

// Allowed reports whether the verdict authorizes the action.
func (v Verdict) Allowed() bool {
	return v == VerdictOK
}

// VerifierConfig holds the parameters for constructing a Verifier.
type VerifierConfig struct {
	Store   *Store
	Keyring *Keyring

	// SkewTolerance extends expiry acceptance to absorb clock drift
	// between the issuing and verifying hosts. Zero means exact
	// expiry.
	SkewTolerance time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Verifier checks grants against requested actions. It holds no grant
// or revocation state of its own: every Verify call reads the store,
// so a revocation committed elsewhere is honored immediately.
type Verifier struct {
	store   *Store
	keyring *Keyring
	skew    time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Store == nil || cfg.Keyring == nil {
		return nil, fmt.Errorf("preauth: verifier requires Store and Keyring")
	}
	if cfg.SkewTolerance < 0 {
		return nil, fmt.Errorf("preauth: verifier SkewTolerance must not be negative")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("preauth: verifier Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Verifier{
		store:   cfg.Store,
		keyring: cfg.Keyring,
		skew:    cfg.SkewTolerance,
		clock:   cfg.Clock,
		logger:  logger,
	}, nil
}

// Verify checks whether the grant authorizes capability on project.
// The returned grant is non-nil whenever the grant id was found,
// regardless of verdict, so callers can report details about the
// failing grant. A non-nil error means a storage failure; the caller
// must treat that as a denial, never as permission.
func (v *Verifier) Verify(ctx context.Context, grantID, project string, capability Capability) (Verdict, *Grant, error) {
	grant, err := v.store.Get(ctx, grantID)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return VerdictNotFound, nil, nil
		}
		return "", nil, err
	}

	valid, err := v.signatureValid(grant)
	if err != nil {
		return "", grant, err
	}
	if !valid {
		return VerdictSignatureInvalid, grant, nil
	}

	revocation, err := v.store.Revocation(ctx, grant.ID)
	if err != nil {
		return "", grant, err
	}
	if revocation != nil {
		return VerdictRevoked, grant, nil
	}

	if grant.Expired(v.clock.Now(), v.skew) {
		return VerdictExpired, grant, nil
	}

	if !grant.InScope(project) {
		return VerdictScopeMismatch, grant, nil
	}

	if !grant.Capabilities.Has(capability) {
		return VerdictCapabilityMismatch, grant, nil
	}

	return VerdictOK, grant, nil
}

// signatureValid checks the detached signature over the stored payload
// bytes. The payload's key id selects the verification key; a key id
// that is neither current nor inside a retired key's grace window
// fails exactly like a forged signature, because without the key the
// two cases are indistinguishable. An unreadable keyring is a storage
// failure, not a verdict about the grant.
func (v *Verifier) signatureValid(grant *Grant) (bool, error) {
	keys, err := v.keyring.VerificationKeys()
	if err != nil {
		return false, fmt.Errorf("preauth: loading verification keys: %w", err)
	}
	for _, key := range keys {
		if key.ID != grant.KeyID {
			continue
		}
		return VerifyPayloadSignature(key.Public, grant.Raw, grant.Signature), nil
	}
	return false, nil
}
