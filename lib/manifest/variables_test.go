// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"strings"
	"testing"
)

func TestResolveVariables(t *testing.T) {
	t.Parallel()

	t.Run("defaults only", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]Variable{
			"MINIMAP2_VERSION": {Default: "2.17"},
			"SAMTOOLS_VERSION": {Default: "1.3.1"},
		}

		resolved, err := ResolveVariables(declarations, nil, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["MINIMAP2_VERSION"] != "2.17" {
			t.Errorf("MINIMAP2_VERSION = %q, want %q", resolved["MINIMAP2_VERSION"], "2.17")
		}
		if resolved["SAMTOOLS_VERSION"] != "1.3.1" {
			t.Errorf("SAMTOOLS_VERSION = %q, want %q", resolved["SAMTOOLS_VERSION"], "1.3.1")
		}
	})

	t.Run("payload overrides defaults", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]Variable{
			"MINIMAP2_VERSION": {Default: "2.17"},
		}
		payload := map[string]string{"MINIMAP2_VERSION": "2.24"}

		resolved, err := ResolveVariables(declarations, payload, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["MINIMAP2_VERSION"] != "2.24" {
			t.Errorf("MINIMAP2_VERSION = %q, want %q", resolved["MINIMAP2_VERSION"], "2.24")
		}
	})

	t.Run("environ overrides payload", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]Variable{
			"MINIMAP2_VERSION": {Default: "2.17"},
		}
		payload := map[string]string{"MINIMAP2_VERSION": "2.24"}
		environ := func(name string) string {
			if name == "MINIMAP2_VERSION" {
				return "2.28"
			}
			return ""
		}

		resolved, err := ResolveVariables(declarations, payload, environ)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["MINIMAP2_VERSION"] != "2.28" {
			t.Errorf("MINIMAP2_VERSION = %q, want %q", resolved["MINIMAP2_VERSION"], "2.28")
		}
	})

	t.Run("undeclared environment variables are not pulled in", func(t *testing.T) {
		t.Parallel()

		environ := func(name string) string { return "leaked" }

		resolved, err := ResolveVariables(map[string]Variable{"KNOWN": {Default: "x"}}, nil, environ)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if _, exists := resolved["HOME"]; exists {
			t.Error("undeclared variable HOME leaked into resolution")
		}
		if resolved["KNOWN"] != "leaked" {
			t.Errorf("KNOWN = %q, want environ value", resolved["KNOWN"])
		}
	})

	t.Run("missing required variables", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]Variable{
			"WEBHOOK_URL": {Required: true},
			"API_TOKEN":   {Required: true},
		}

		_, err := ResolveVariables(declarations, nil, func(string) string { return "" })
		if err == nil {
			t.Fatal("ResolveVariables succeeded, want error for missing required variables")
		}
		// Missing names are sorted for stable error messages.
		if !strings.Contains(err.Error(), "API_TOKEN, WEBHOOK_URL") {
			t.Errorf("error %q does not list missing variables in order", err)
		}
	})
}

func TestExpand(t *testing.T) {
	t.Parallel()

	variables := map[string]string{
		"VERSION": "2.17",
		"TOOLS":   "/opt/tools",
	}

	t.Run("expands braced references", func(t *testing.T) {
		t.Parallel()

		got, err := Expand("minimap2-${VERSION} in ${TOOLS}", variables)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if got != "minimap2-2.17 in /opt/tools" {
			t.Errorf("Expand = %q", got)
		}
	})

	t.Run("leaves bare dollar for the shell", func(t *testing.T) {
		t.Parallel()

		got, err := Expand("echo $PATH and ${VERSION}", variables)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if got != "echo $PATH and 2.17" {
			t.Errorf("Expand = %q", got)
		}
	})

	t.Run("unresolved reference fails", func(t *testing.T) {
		t.Parallel()

		_, err := Expand("${MISSING}", variables)
		if err == nil {
			t.Fatal("Expand succeeded, want error")
		}
		if !strings.Contains(err.Error(), "MISSING") {
			t.Errorf("error %q does not name the unresolved variable", err)
		}
	})
}

func TestExpandStep(t *testing.T) {
	t.Parallel()

	variables := map[string]string{"VERSION": "1.3.1"}

	t.Run("expands fetch fields", func(t *testing.T) {
		t.Parallel()

		step := Step{
			Name: "samtools",
			Fetch: &FetchSpec{
				URL:     "https://example.org/samtools-${VERSION}.tar.bz2",
				Build:   "make samtools-${VERSION}",
				Bin:     "samtools-${VERSION}",
				Extract: true,
			},
		}

		expanded, err := ExpandStep(step, variables)
		if err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if expanded.Fetch.URL != "https://example.org/samtools-1.3.1.tar.bz2" {
			t.Errorf("URL = %q", expanded.Fetch.URL)
		}
		if expanded.Fetch.Bin != "samtools-1.3.1" {
			t.Errorf("Bin = %q", expanded.Fetch.Bin)
		}
		// Original step is untouched.
		if step.Fetch.URL != "https://example.org/samtools-${VERSION}.tar.bz2" {
			t.Errorf("original step mutated: %q", step.Fetch.URL)
		}
	})

	t.Run("step env participates in run expansion", func(t *testing.T) {
		t.Parallel()

		step := Step{
			Name:    "build",
			Run:     "make -j${JOBS}",
			StepEnv: map[string]string{"JOBS": "${VERSION}"},
		}

		expanded, err := ExpandStep(step, variables)
		if err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if expanded.Run != "make -j1.3.1" {
			t.Errorf("Run = %q", expanded.Run)
		}
		if expanded.StepEnv["JOBS"] != "1.3.1" {
			t.Errorf("StepEnv[JOBS] = %q", expanded.StepEnv["JOBS"])
		}
	})

	t.Run("expands env and packages", func(t *testing.T) {
		t.Parallel()

		step := Step{
			Name:     "exports",
			Env:      map[string]string{"SAMTOOLS_HOME": "/opt/samtools-${VERSION}"},
			Packages: []string{"samtools-${VERSION}"},
		}

		expanded, err := ExpandStep(step, variables)
		if err != nil {
			t.Fatalf("ExpandStep: %v", err)
		}
		if expanded.Env["SAMTOOLS_HOME"] != "/opt/samtools-1.3.1" {
			t.Errorf("Env = %+v", expanded.Env)
		}
		if expanded.Packages[0] != "samtools-1.3.1" {
			t.Errorf("Packages = %+v", expanded.Packages)
		}
	})

	t.Run("unresolved reference names the step", func(t *testing.T) {
		t.Parallel()

		_, err := ExpandStep(Step{Name: "broken", Run: "${NOPE}"}, variables)
		if err == nil {
			t.Fatal("ExpandStep succeeded, want error")
		}
		if !strings.Contains(err.Error(), `"broken"`) {
			t.Errorf("error %q does not name the step", err)
		}
	})
}

func TestExpandTest(t *testing.T) {
	t.Parallel()

	test, err := ExpandTest(TestSpec{
		Run: "pytest --version=${VERSION}",
		Env: map[string]string{"SUITE": "v${VERSION}"},
	}, map[string]string{"VERSION": "3"})
	if err != nil {
		t.Fatalf("ExpandTest: %v", err)
	}
	if test.Run != "pytest --version=3" {
		t.Errorf("Run = %q", test.Run)
	}
	if test.Env["SUITE"] != "v3" {
		t.Errorf("Env = %+v", test.Env)
	}
}
