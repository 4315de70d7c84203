// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum parses and verifies digest declarations for
// downloaded tool archives. Declarations carry an algorithm prefix
// ("sha256-<hex>" or "b3-<hex>") so manifests can use whichever digest
// the upstream project publishes. Files are hashed in streaming mode;
// memory usage is constant regardless of archive size.
package checksum
