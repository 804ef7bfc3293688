// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/autosd-foundation/autosd/lib/preauth"
)

// Stable CLI error codes. Calling agents branch on these; they never
// change meaning.
const (
	// CodePreauthRequired means the action needs a grant and none was
	// presented.
	CodePreauthRequired = "AUTOSD-PREAUTH-REQUIRED"

	// CodePreauthInvalid means a grant was presented but failed
	// verification for any reason.
	CodePreauthInvalid = "AUTOSD-PREAUTH-INVALID"

	// CodeEnvInvalid means the environment is outside dev/staging/prod.
	CodeEnvInvalid = "AUTOSD-ENV-INVALID"

	// CodeTargetEnvInvalid means a promotion named an unknown target
	// environment.
	CodeTargetEnvInvalid = "AUTOSD-TARGET-ENV-INVALID"
)

// Decision reasons outside the verifier's verdict set.
const (
	// ReasonAllowedByGrant: a verified grant authorized the action.
	ReasonAllowedByGrant = "allowed_by_grant"

	// ReasonAllowedByPolicy: the merged project policy default-allows
	// the action; no grant involved.
	ReasonAllowedByPolicy = "allowed_by_policy"

	// ReasonMissingGrant: the action requires a grant and none was
	// presented.
	ReasonMissingGrant = "missing_grant"

	// ReasonInvalidEnvironment: the environment failed input
	// validation, before any grant logic ran.
	ReasonInvalidEnvironment = "invalid_environment"

	// ReasonInvalidTargetEnvironment: a promotion's target environment
	// failed input validation.
	ReasonInvalidTargetEnvironment = "invalid_target_environment"
)

// Request describes one action to resolve.
type Request struct {
	Action  Action
	Project string

	// Environment is the acted-on environment for deploy and rollback.
	// Ignored for patch, merge, and publish.
	Environment string

	// TargetEnvironment is the destination of a promotion. Promotions
	// are gated on where the build is going, not where it came from.
	TargetEnvironment string

	// GrantID is the presented grant, or empty if none.
	GrantID string
}

// Decision is the resolver's answer. Reason and Code are stable
// machine-readable strings; Code is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  string
	Code    string

	// Capability is what the action required, when resolution got far
	// enough to determine it.
	Capability preauth.Capability

	// BreakGlass is set when the authorizing grant carries the
	// break-glass capability. Such decisions are flagged in audit for
	// mandatory review.
	BreakGlass bool

	// RequireCanary is set on production deploy and promote decisions
	// when the merged policy demands a canary stage.
	RequireCanary bool
}

// ResolverConfig holds the parameters for constructing a Resolver.
type ResolverConfig struct {
	// Verifier checks presented grants.
	Verifier *preauth.Verifier

	// ProjectsRoot is the directory whose children are project
	// directories; <ProjectsRoot>/<project>/.autosd/policy.jsonc is
	// each project's policy file.
	ProjectsRoot string

	Logger *slog.Logger
}

// Resolver merges defaults, project policy, and grants into decisions.
// Stateless between calls: every Resolve re-reads the project policy
// file and, through the verifier, the revocation ledger.
type Resolver struct {
	verifier *preauth.Verifier
	root     string
	logger   *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("policy: resolver requires a Verifier")
	}
	if cfg.ProjectsRoot == "" {
		return nil, fmt.Errorf("policy: resolver requires ProjectsRoot")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{verifier: cfg.Verifier, root: cfg.ProjectsRoot, logger: logger}, nil
}

// Resolve decides whether the request may proceed. A non-nil error
// means resolution itself failed (storage, malformed policy file);
// callers must treat that as a denial. Input validation failures and
// policy denials come back as a Decision, not an error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	if req.Project == "" {
		return Decision{}, fmt.Errorf("policy: request has no project")
	}

	// Environment validation runs before any grant logic: an
	// unrecognized environment is rejected even with a perfect grant
	// in hand.
	var env preauth.Environment
	if req.Action.EnvironmentScoped() {
		raw, reason, code := req.Environment, ReasonInvalidEnvironment, CodeEnvInvalid
		if req.Action == ActionPromote {
			raw, reason, code = req.TargetEnvironment, ReasonInvalidTargetEnvironment, CodeTargetEnvInvalid
		}
		parsed, err := preauth.ParseEnvironment(raw)
		if err != nil {
			return Decision{Reason: reason, Code: code}, nil
		}
		env = parsed
	}

	capability, err := RequiredCapability(req.Action, env)
	if err != nil {
		return Decision{}, err
	}

	merged, err := Load(filepath.Join(r.root, req.Project))
	if err != nil {
		return Decision{}, err
	}

	requireCanary := env == preauth.EnvProd &&
		(req.Action == ActionDeploy || req.Action == ActionPromote) &&
		merged.Deployment.RequireCanaryForProd

	if req.GrantID != "" {
		verdict, grant, err := r.verifier.Verify(ctx, req.GrantID, req.Project, capability)
		if err != nil {
			return Decision{}, err
		}
		if verdict.Allowed() {
			// A verified grant is final. It overrides project-policy
			// prohibitions for the capability it names; it is the
			// mechanism by which an operator widens policy.
			return Decision{
				Allowed:       true,
				Reason:        ReasonAllowedByGrant,
				Capability:    capability,
				BreakGlass:    grant.Capabilities.Has(preauth.CapBreakGlass),
				RequireCanary: requireCanary,
			}, nil
		}
		return Decision{
			Reason:     string(verdict),
			Code:       CodePreauthInvalid,
			Capability: capability,
		}, nil
	}

	if r.defaultAllows(req.Action, env, merged) {
		return Decision{
			Allowed:       true,
			Reason:        ReasonAllowedByPolicy,
			Capability:    capability,
			RequireCanary: requireCanary,
		}, nil
	}
	return Decision{
		Reason:     ReasonMissingGrant,
		Code:       CodePreauthRequired,
		Capability: capability,
	}, nil
}

// defaultAllows reports whether the merged policy permits the action
// with no grant at all. Production deploys and promotions are hardwired
// to false: no project file can default-allow them, and rollbacks
// always need a grant because they rewrite a live environment.
func (r *Resolver) defaultAllows(action Action, env preauth.Environment, merged Policy) bool {
	switch action {
	case ActionDeploy, ActionPromote:
		switch env {
		case preauth.EnvDev:
			return merged.Deployment.AllowDev
		case preauth.EnvStaging:
			return merged.Deployment.AllowStaging
		default:
			return false
		}
	case ActionPatch:
		return merged.Gitops.AutoPush
	case ActionMerge:
		return merged.Gitops.AutoMerge
	case ActionPublish:
		return merged.Publish.Enabled
	default:
		return false
	}
}
