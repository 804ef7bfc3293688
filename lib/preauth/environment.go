// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import "fmt"

// Environment is a recognized deployment environment. Anything outside
// the closed dev/staging/prod set is rejected at input validation,
// before any grant logic runs.
type Environment string

const (
	// EnvDev is the development environment.
	EnvDev Environment = "dev"

	// EnvStaging is the pre-production environment.
	EnvStaging Environment = "staging"

	// EnvProd is the production environment.
	EnvProd Environment = "prod"
)

// ParseEnvironment converts a string to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvDev, EnvStaging, EnvProd:
		return Environment(s), nil
	}
	return "", fmt.Errorf("unknown environment %q (want dev, staging, or prod)", s)
}

// DeployCapability returns the capability required to deploy to (or
// promote into) the given environment.
func DeployCapability(env Environment) Capability {
	switch env {
	case EnvDev:
		return CapDeployDev
	case EnvStaging:
		return CapDeployStaging
	default:
		return CapDeployProd
	}
}
