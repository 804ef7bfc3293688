// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"

	"github.com/autosd-foundation/autosd/lib/preauth"
)

// Action is a gated operation class. The set is closed: the resolver
// rejects anything it does not recognize.
type Action string

const (
	// ActionDeploy deploys a build to an environment.
	ActionDeploy Action = "deploy"

	// ActionPromote moves an already-deployed build up to the next
	// environment. Gated on the target environment, not the source.
	ActionPromote Action = "promote"

	// ActionRollback reverts an environment to the previous build.
	ActionRollback Action = "rollback"

	// ActionPatch pushes an automatically generated patch, including
	// self-heal patches.
	ActionPatch Action = "patch"

	// ActionMerge merges an agent-authored pull request.
	ActionMerge Action = "merge"

	// ActionPublish publishes a packaged artifact to an external
	// store.
	ActionPublish Action = "publish"
)

// ParseAction converts a string to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionDeploy, ActionPromote, ActionRollback, ActionPatch, ActionMerge, ActionPublish:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// EnvironmentScoped reports whether the action's required capability
// depends on an environment.
func (a Action) EnvironmentScoped() bool {
	return a == ActionDeploy || a == ActionPromote || a == ActionRollback
}

// RequiredCapability maps an action (and, for environment-scoped
// actions, its environment) to the capability a grant must carry.
func RequiredCapability(action Action, env preauth.Environment) (preauth.Capability, error) {
	switch action {
	case ActionDeploy, ActionPromote:
		return preauth.DeployCapability(env), nil
	case ActionRollback:
		return preauth.CapRollback, nil
	case ActionPatch:
		return preauth.CapAutoPush, nil
	case ActionMerge:
		return preauth.CapAutoMerge, nil
	case ActionPublish:
		return preauth.CapPublish, nil
	}
	return "", fmt.Errorf("policy: no capability mapping for action %q", action)
}
