// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for benchrig.
//
// Configuration is loaded from a single file specified by either the
// BENCHRIG_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides. Commands that can operate
// on defaults alone (validate, provision against a local manifest)
// fall back to [Default] when no file is given.
//
// The configuration file supports environment-specific sections
// (development, ci, production) that override base values when
// [Config].Environment matches. CI defaults differ from development:
// sudo is disabled because CI workers already run as root.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${BENCHRIG_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Packages, Notify, Timeouts
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other benchrig packages.
package config
