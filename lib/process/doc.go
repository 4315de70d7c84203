// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers: the exit codes
// the benchrig CLI commits to, and pre-logger fatal error reporting.
// All other raw stderr/stdout output in the binary goes through the
// structured logger or the CLI's own rendering.
package process
