// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision executes environment manifests: it installs system
// packages, downloads and builds tool archives, exports environment
// variables, brings up a virtual display server, and finally runs the
// test command in the resulting environment.
//
// Execution is strictly sequential and fail-fast. There is no retry,
// rollback, or partial-success handling: the first non-optional step
// failure terminates the run, and no later step executes.
//
// The environment is explicit. Steps do not mutate the benchrig
// process's environment; the [Engine] threads an immutable
// [Environment] value through the steps, so "later steps see earlier
// steps' exports" is a data dependency visible in the types rather
// than ambient process state.
package provision
