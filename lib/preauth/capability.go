// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"fmt"
	"sort"
)

// Capability is a privileged action class a grant may enable. Each
// capability is independently grantable; a grant carries a set.
type Capability string

const (
	// CapDeployDev allows automated deploys to the dev environment.
	CapDeployDev Capability = "deploy-dev"

	// CapDeployStaging allows automated deploys to staging.
	CapDeployStaging Capability = "deploy-staging"

	// CapDeployProd allows automated deploys and promotions to
	// production. Production-impacting actions are never allowed
	// without a grant carrying this capability.
	CapDeployProd Capability = "deploy-prod"

	// CapRollback allows automated rollbacks of a previous deploy.
	CapRollback Capability = "rollback"

	// CapAutoPush allows the agent to push generated patches
	// (including self-heal patches) without operator review.
	CapAutoPush Capability = "auto-push"

	// CapAutoMerge allows the agent to merge its own pull requests.
	CapAutoMerge Capability = "auto-merge"

	// CapPublish allows publishing packaged artifacts to an external
	// store.
	CapPublish Capability = "publish"

	// CapBreakGlass marks an emergency grant. Break-glass grants have
	// their TTL clamped to a short policy ceiling at issuance, and
	// their use is flagged in every audit record they authorize.
	CapBreakGlass Capability = "break-glass"
)

// allCapabilities is the closed set of recognized capabilities.
var allCapabilities = map[Capability]bool{
	CapDeployDev:     true,
	CapDeployStaging: true,
	CapDeployProd:    true,
	CapRollback:      true,
	CapAutoPush:      true,
	CapAutoMerge:     true,
	CapPublish:       true,
	CapBreakGlass:    true,
}

// Valid reports whether c is a recognized capability.
func (c Capability) Valid() bool {
	return allCapabilities[c]
}

// ParseCapability converts a string to a Capability, rejecting
// anything outside the closed set. Free-form strings never reach the
// issuer.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// CapabilitySet is a sorted, deduplicated set of capabilities. The
// sorted form is what gets signed, so set construction must be
// canonical: the same logical set always encodes to the same bytes.
type CapabilitySet []Capability

// NewCapabilitySet builds a canonical set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	seen := make(map[Capability]bool, len(caps))
	set := make(CapabilitySet, 0, len(caps))
	for _, c := range caps {
		if seen[c] {
			continue
		}
		seen[c] = true
		set = append(set, c)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	for _, member := range s {
		if member == c {
			return true
		}
	}
	return false
}

// Strings returns the capability names, in canonical order.
func (s CapabilitySet) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}
