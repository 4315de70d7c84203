// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest provides parsing, validation, and variable expansion
// for benchrig environment manifests. A manifest is a structured
// sequence of provisioning steps (package installs, tool archive
// fetches, environment exports, a virtual display), the test command
// to run in the provisioned environment, and a notification webhook.
//
// Manifests are authored as JSONC files (JSON extended with comments
// and trailing commas). The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Manifest
//  2. Validate: structural checks (one action per step, required
//     fields, parseable durations, well-formed checksums)
//  3. ResolveVariables: merge declarations + payload + environment
//  4. ExpandStep: substitute ${NAME} references before execution
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Manifest.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	var m Manifest
	if err := json.Unmarshal(stripped, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return &m, nil
}

// ReadFile reads a JSONC manifest file from disk and parses it. When
// the manifest declares no name, one is derived from the file path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if m.Name == "" {
		m.Name = NameFromPath(path)
	}
	return m, nil
}

// NameFromPath extracts a manifest name from a file path by stripping
// the directory prefix and the file extension. For example,
// "ci/environments/bioinformatics.jsonc" returns "bioinformatics".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}
