// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized — bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables merges variable sources according to manifest
// resolution order (lowest to highest priority):
//
//  1. Declared defaults from manifest variable definitions
//  2. Payload values (--var flags on the command line)
//  3. Environment lookup via the environ function
//
// Returns the merged variable map. Returns an error if any required
// variable (per its declaration) has no value from any source.
//
// The environ function is typically os.Getenv for production use, or
// a stub for testing. It is only consulted for variables that are
// declared in the manifest — undeclared environment variables are not
// included in the result.
func ResolveVariables(declarations map[string]Variable, payload map[string]string, environ func(string) string) (map[string]string, error) {
	resolved := make(map[string]string, len(declarations)+len(payload))

	// Start with declared defaults (lowest priority).
	for name, declaration := range declarations {
		if declaration.Default != "" {
			resolved[name] = declaration.Default
		}
	}

	// Overlay payload values (medium priority).
	for name, value := range payload {
		resolved[name] = value
	}

	// Overlay environment values for declared variables (highest
	// priority). Only declared variables are looked up — we don't
	// pull in the entire process environment.
	if environ != nil {
		for name := range declarations {
			if value := environ(name); value != "" {
				resolved[name] = value
			}
		}
	}

	// Check that all required variables have a value.
	var missing []string
	for name, declaration := range declarations {
		if declaration.Required {
			if _, exists := resolved[name]; !exists {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("required manifest variables not set: %s", strings.Join(missing, ", "))
	}

	return resolved, nil
}

// Expand replaces ${NAME} references in input with values from the
// variables map. Only the ${NAME} form is recognized (braces required);
// bare $NAME is left for shell interpretation.
//
// Returns an error listing all referenced variables that have no value
// in the map. This ensures manifests fail fast on unresolvable
// references rather than producing broken commands or URLs.
func Expand(input string, variables map[string]string) (string, error) {
	var unresolved []string

	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract the variable name from ${NAME}.
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved manifest variables: %s", strings.Join(unresolved, ", "))
	}

	return result, nil
}

// ExpandStep returns a copy of step with all string fields expanded
// using Expand. Step-level env values are expanded first (against
// manifest variables only), then merged into the variable map for
// expanding other fields. This means a run command can reference step
// env variables with ${NAME}, and those values will already have their
// own ${REFERENCES} resolved.
//
// The original step and variables map are not modified.
func ExpandStep(step Step, variables map[string]string) (Step, error) {
	// First pass: expand step-level env values against manifest
	// variables only (no cross-referencing between env entries).
	var expandedStepEnv map[string]string
	if len(step.StepEnv) > 0 {
		expandedStepEnv = make(map[string]string, len(step.StepEnv))
		for name, value := range step.StepEnv {
			expandedValue, err := Expand(value, variables)
			if err != nil {
				return Step{}, fmt.Errorf("step %q step_env[%s]: %w", step.Name, name, err)
			}
			expandedStepEnv[name] = expandedValue
		}
	}

	// Merged variable map: manifest variables as base, expanded step
	// env on top. Step env takes precedence.
	merged := make(map[string]string, len(variables)+len(expandedStepEnv))
	for name, value := range variables {
		merged[name] = value
	}
	for name, value := range expandedStepEnv {
		merged[name] = value
	}

	var err error

	if step.Run, err = Expand(step.Run, merged); err != nil {
		return Step{}, fmt.Errorf("step %q run: %w", step.Name, err)
	}
	if step.When, err = Expand(step.When, merged); err != nil {
		return Step{}, fmt.Errorf("step %q when: %w", step.Name, err)
	}

	if len(step.Packages) > 0 {
		expanded := make([]string, len(step.Packages))
		for index, pkg := range step.Packages {
			if expanded[index], err = Expand(pkg, merged); err != nil {
				return Step{}, fmt.Errorf("step %q packages[%d]: %w", step.Name, index, err)
			}
		}
		step.Packages = expanded
	}

	if len(step.Env) > 0 {
		expanded := make(map[string]string, len(step.Env))
		for name, value := range step.Env {
			if expanded[name], err = Expand(value, merged); err != nil {
				return Step{}, fmt.Errorf("step %q env[%s]: %w", step.Name, name, err)
			}
		}
		step.Env = expanded
	}

	if step.Fetch != nil {
		expanded := *step.Fetch
		if expanded.URL, err = Expand(expanded.URL, merged); err != nil {
			return Step{}, fmt.Errorf("step %q fetch.url: %w", step.Name, err)
		}
		if expanded.Checksum, err = Expand(expanded.Checksum, merged); err != nil {
			return Step{}, fmt.Errorf("step %q fetch.checksum: %w", step.Name, err)
		}
		if expanded.Build, err = Expand(expanded.Build, merged); err != nil {
			return Step{}, fmt.Errorf("step %q fetch.build: %w", step.Name, err)
		}
		if expanded.Bin, err = Expand(expanded.Bin, merged); err != nil {
			return Step{}, fmt.Errorf("step %q fetch.bin: %w", step.Name, err)
		}
		step.Fetch = &expanded
	}

	if step.Display != nil {
		expanded := *step.Display
		if len(expanded.Args) > 0 {
			args := make([]string, len(expanded.Args))
			for index, arg := range expanded.Args {
				if args[index], err = Expand(arg, merged); err != nil {
					return Step{}, fmt.Errorf("step %q display.args[%d]: %w", step.Name, index, err)
				}
			}
			expanded.Args = args
		}
		step.Display = &expanded
	}

	step.StepEnv = expandedStepEnv
	return step, nil
}

// ExpandTest returns a copy of the test spec with its command and env
// values expanded.
func ExpandTest(test TestSpec, variables map[string]string) (TestSpec, error) {
	var err error
	if test.Run, err = Expand(test.Run, variables); err != nil {
		return TestSpec{}, fmt.Errorf("test run: %w", err)
	}
	if len(test.Env) > 0 {
		expanded := make(map[string]string, len(test.Env))
		for name, value := range test.Env {
			if expanded[name], err = Expand(value, variables); err != nil {
				return TestSpec{}, fmt.Errorf("test env[%s]: %w", name, err)
			}
		}
		test.Env = expanded
	}
	return test, nil
}
