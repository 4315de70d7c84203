// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers for benchrig.
//
// ErrorBody bounds its response body read at MaxResponseSize to
// prevent unbounded memory allocation from a misbehaving server. It is
// for small diagnostic responses (webhook error bodies) -- not for
// archive downloads, which are streamed incrementally with io.Copy.
package netutil

import (
	"io"
)

// MaxResponseSize is the bound on response body reads: 16 MB. This
// exists solely to prevent a pathological response from exhausting
// memory; legitimate webhook responses are orders of magnitude
// smaller.
const MaxResponseSize int64 = 16 << 20

// ErrorBody reads an HTTP error response body and returns it as a string for
// diagnostic error messages. Read errors are silently ignored — a partial or
// empty body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
