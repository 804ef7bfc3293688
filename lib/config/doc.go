// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for autosd.
//
// Configuration is loaded from a single YAML file specified by:
//   - AUTOSD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// When neither is set, built-in defaults rooted under ~/.autosd apply,
// so a single operator on a single machine needs no config file at
// all. When a file IS named, it is the single source of truth: no
// other environment variables override its values. The only expansion
// performed is ${VAR} / ${VAR:-default} in paths for portability.
package config
