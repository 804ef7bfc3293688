// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/autosd-foundation/autosd/lib/audit"
	"github.com/autosd-foundation/autosd/lib/clock"
)

// Validation errors returned by Issue. All of them mean the request
// was rejected before anything was signed or persisted.
var (
	// ErrEmptyProjects means the request named no projects.
	ErrEmptyProjects = errors.New("preauth: grant must name at least one project")

	// ErrNoCapabilities means the request named no capabilities.
	ErrNoCapabilities = errors.New("preauth: grant must name at least one capability")

	// ErrWildcardScope means "*" was mixed with explicit project ids.
	// The wildcard is all-or-nothing.
	ErrWildcardScope = errors.New(`preauth: wildcard scope "*" must be the only project`)

	// ErrConflictingCapabilities means the request both granted and
	// prohibited production deployment.
	ErrConflictingCapabilities = errors.New("preauth: deploy-prod capability conflicts with no-auto-deploy-prod")

	// ErrInvalidTTL means the requested lifetime is non-positive or
	// above the configured maximum.
	ErrInvalidTTL = errors.New("preauth: invalid grant TTL")
)

// IssuerConfig holds the parameters for constructing an Issuer.
type IssuerConfig struct {
	Keyring *Keyring
	Store   *Store
	Audit   *audit.Logger

	// MaxTTL is the longest lifetime an ordinary grant may have.
	// Requests above it are rejected, not clamped.
	MaxTTL time.Duration

	// BreakGlassCeiling is the hard lifetime cap for grants carrying
	// the break-glass capability. Requests above it are clamped down,
	// never rejected: in an emergency, a too-long request still yields
	// a usable short grant.
	BreakGlassCeiling time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Issuer creates signed grants. Every successful issuance is persisted
// and audited before the grant is returned to the caller.
type Issuer struct {
	keyring *Keyring
	store   *Store
	audit   *audit.Logger
	maxTTL  time.Duration
	ceiling time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

// IssueRequest describes the grant to create.
type IssueRequest struct {
	// Projects is the subject scope. Either explicit project ids or
	// the single wildcard "*".
	Projects []string

	// Capabilities is the requested capability set.
	Capabilities []Capability

	// TTL is the requested lifetime.
	TTL time.Duration

	// Issuer is the operator name recorded in the grant payload.
	Issuer string

	// NoAutoDeployProd asserts that this grant must not authorize
	// production deployment. Combining it with the deploy-prod
	// capability is a contradiction and rejected.
	NoAutoDeployProd bool

	// References carries audit context such as ticket ids.
	References []string
}

// NewIssuer constructs an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Keyring == nil || cfg.Store == nil || cfg.Audit == nil {
		return nil, fmt.Errorf("preauth: issuer requires Keyring, Store, and Audit")
	}
	if cfg.MaxTTL <= 0 {
		return nil, fmt.Errorf("preauth: issuer MaxTTL must be positive")
	}
	if cfg.BreakGlassCeiling <= 0 {
		return nil, fmt.Errorf("preauth: issuer BreakGlassCeiling must be positive")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("preauth: issuer Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Issuer{
		keyring: cfg.Keyring,
		store:   cfg.Store,
		audit:   cfg.Audit,
		maxTTL:  cfg.MaxTTL,
		ceiling: cfg.BreakGlassCeiling,
		clock:   cfg.Clock,
		logger:  logger,
	}, nil
}

// Issue validates the request, signs a grant, persists it, and writes
// the issuance audit record. Validation happens strictly before
// signing: a rejected request leaves no trace in the store.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Grant, error) {
	if len(req.Projects) == 0 {
		return nil, ErrEmptyProjects
	}
	seen := make(map[string]bool, len(req.Projects))
	projects := make([]string, 0, len(req.Projects))
	for _, p := range req.Projects {
		if !seen[p] {
			seen[p] = true
			projects = append(projects, p)
		}
	}
	sort.Strings(projects)
	for _, p := range projects {
		if p == WildcardScope && len(projects) > 1 {
			return nil, ErrWildcardScope
		}
	}

	if len(req.Capabilities) == 0 {
		return nil, ErrNoCapabilities
	}
	for _, c := range req.Capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("preauth: unknown capability %q", c)
		}
	}
	capabilities := NewCapabilitySet(req.Capabilities...)
	if req.NoAutoDeployProd && capabilities.Has(CapDeployProd) {
		return nil, ErrConflictingCapabilities
	}

	ttl := req.TTL
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: %s is not positive", ErrInvalidTTL, ttl)
	}

	references := append([]string(nil), req.References...)
	breakGlass := capabilities.Has(CapBreakGlass)
	switch {
	case breakGlass && ttl > i.ceiling:
		// Clamp, never reject: an emergency request with a too-long
		// lifetime still produces a usable grant, even when the request
		// exceeds the ordinary maximum. The reduction is recorded in
		// the audit trail and the operational log.
		i.logger.Warn("break-glass TTL clamped",
			"requested", ttl,
			"ceiling", i.ceiling,
		)
		references = append(references, fmt.Sprintf("break-glass TTL clamped from %s to %s", ttl, i.ceiling))
		ttl = i.ceiling
	case !breakGlass && ttl > i.maxTTL:
		return nil, fmt.Errorf("%w: %s exceeds maximum %s", ErrInvalidTTL, ttl, i.maxTTL)
	}

	id, err := newGrantID()
	if err != nil {
		return nil, err
	}
	now := i.clock.Now()
	payload := &Payload{
		ID:           id,
		Projects:     projects,
		Capabilities: capabilities,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(ttl).Unix(),
		Issuer:       req.Issuer,
	}

	signer := func(message []byte) (sig []byte, keyID string, err error) {
		return i.keyring.Sign(message)
	}
	grant, err := signGrant(payload, signer)
	if err != nil {
		return nil, err
	}

	if err := i.store.Put(ctx, grant); err != nil {
		return nil, err
	}
	if err := i.audit.Append(audit.Record{
		Action:     "grant_create",
		GrantID:    grant.ID,
		Result:     "issued",
		References: references,
		BreakGlass: breakGlass,
	}); err != nil {
		return nil, fmt.Errorf("preauth: recording issuance: %w", err)
	}

	i.logger.Info("grant issued",
		"grant_id", grant.ID,
		"projects", projects,
		"capabilities", capabilities.Strings(),
		"expires_at", time.Unix(grant.ExpiresAt, 0).UTC(),
		"key_id", grant.KeyID,
	)
	return grant, nil
}

// signGrant fills the payload's key id, encodes it, and signs it. The
// key id has to be inside the signed bytes, so signing is two-phase:
// learn the key id with a throwaway signature, set it, then sign the
// final encoding.
func signGrant(payload *Payload, sign func([]byte) ([]byte, string, error)) (*Grant, error) {
	_, keyID, err := sign(nil)
	if err != nil {
		return nil, err
	}
	payload.KeyID = keyID

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	signature, signedKeyID, err := sign(raw)
	if err != nil {
		return nil, err
	}
	if signedKeyID != keyID {
		// A rotation landed between the two signatures.
		// The payload's key id would not match the signing key, so the
		// grant would never verify. Refuse instead of persisting junk.
		return nil, fmt.Errorf("preauth: signing key rotated mid-issuance (was %s, now %s)", keyID, signedKeyID)
	}
	return &Grant{Payload: *payload, Raw: raw, Signature: signature}, nil
}
