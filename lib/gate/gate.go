// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate runs privileged actions behind the policy resolver.
//
// The gate enforces the verify-then-act ordering: resolution is the
// last check before the action runs, the decision is audited before
// the action starts, and the outcome is audited after it finishes.
// Nothing caches a decision across actions; every Run resolves fresh,
// so a revocation committed a millisecond earlier denies the action.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autosd-foundation/autosd/lib/audit"
	"github.com/autosd-foundation/autosd/lib/policy"
)

// DeniedError is returned when policy refuses the action. It carries
// the stable reason and CLI code from the decision.
type DeniedError struct {
	Action  policy.Action
	Project string
	Reason  string
	Code    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s of %s denied: %s", e.Code, e.Action, e.Project, e.Reason)
}

// IsDenied reports whether err is a policy denial, as opposed to an
// infrastructure failure.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}

// Request describes one privileged action to run.
type Request struct {
	Action  policy.Action
	Project string

	// Environment / TargetEnvironment as in policy.Request.
	Environment       string
	TargetEnvironment string

	// GrantID is the presented grant, or empty.
	GrantID string

	// References carries audit context (ticket ids, build ids).
	References []string
}

// Config holds the parameters for constructing a Gate.
type Config struct {
	Resolver *policy.Resolver
	Audit    *audit.Logger
	Logger   *slog.Logger
}

// Gate couples resolution, auditing, and execution.
type Gate struct {
	resolver *policy.Resolver
	audit    *audit.Logger
	logger   *slog.Logger
}

// New constructs a Gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Resolver == nil || cfg.Audit == nil {
		return nil, fmt.Errorf("gate: Resolver and Audit are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{resolver: cfg.Resolver, audit: cfg.Audit, logger: logger}, nil
}

// Run resolves the request and, if allowed, executes fn. The decision
// audit record is durably written before fn starts; if that write
// fails, fn never runs. A resolution error (storage, malformed policy)
// also denies — never proceeds.
//
// fn's error is returned as-is after the outcome record is written.
func (g *Gate) Run(ctx context.Context, req Request, fn func(context.Context) error) error {
	decision, err := g.resolver.Resolve(ctx, policy.Request{
		Action:            req.Action,
		Project:           req.Project,
		Environment:       req.Environment,
		TargetEnvironment: req.TargetEnvironment,
		GrantID:           req.GrantID,
	})
	if err != nil {
		return fmt.Errorf("gate: resolving %s of %s: %w", req.Action, req.Project, err)
	}

	references := append([]string(nil), req.References...)
	if !decision.Allowed {
		denied := &DeniedError{
			Action:  req.Action,
			Project: req.Project,
			Reason:  decision.Reason,
			Code:    decision.Code,
		}
		denial := append(references, "reason: "+decision.Reason)
		if auditErr := g.audit.Append(audit.Record{
			Action:     string(req.Action),
			Project:    req.Project,
			GrantID:    req.GrantID,
			Result:     "denied",
			References: denial,
		}); auditErr != nil {
			// The denial stands either way, but an unrecorded decision
			// must not fail silently: surface both.
			return errors.Join(denied, fmt.Errorf("gate: recording denial: %w", auditErr))
		}
		return denied
	}

	if err := g.audit.Append(audit.Record{
		Action:     string(req.Action),
		Project:    req.Project,
		GrantID:    req.GrantID,
		Result:     "allowed",
		References: append(references, "reason: "+decision.Reason),
		BreakGlass: decision.BreakGlass,
	}); err != nil {
		return fmt.Errorf("gate: recording decision, refusing to proceed: %w", err)
	}

	runErr := fn(ctx)

	result := "succeeded"
	outcome := references
	if runErr != nil {
		result = "failed"
		outcome = append(outcome, "error: "+runErr.Error())
	}
	if auditErr := g.audit.Append(audit.Record{
		Action:     string(req.Action),
		Project:    req.Project,
		GrantID:    req.GrantID,
		Result:     result,
		References: outcome,
		BreakGlass: decision.BreakGlass,
	}); auditErr != nil {
		g.logger.Error("recording outcome", "error", auditErr)
		if runErr == nil {
			return fmt.Errorf("gate: action succeeded but outcome record failed: %w", auditErr)
		}
	}
	return runErr
}
