// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for benchrig packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. Use them
// for channels that signal process exits and readiness.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no benchrig-internal dependencies.
package testutil
