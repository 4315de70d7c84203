// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"os"
	"sort"
	"strings"
)

// Environment is an explicit, immutable process environment. Steps
// never mutate the benchrig process's own environment; instead each
// mutation produces a new Environment value that the engine threads
// through to later steps and finally to the test command. This makes
// the sequential dependency between steps (a fetch step extending PATH
// that the test command relies on) a typed data dependency rather than
// ambient process state.
type Environment struct {
	values map[string]string
}

// SystemEnvironment returns an Environment snapshotting the current
// process environment. This is the base that manifest steps build on.
func SystemEnvironment() Environment {
	environ := os.Environ()
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		values[name] = value
	}
	return Environment{values: values}
}

// EmptyEnvironment returns an Environment with no variables. Used in
// tests and for fully hermetic runs.
func EmptyEnvironment() Environment {
	return Environment{values: map[string]string{}}
}

// Get returns the value of name, or "" when unset.
func (e Environment) Get(name string) string {
	return e.values[name]
}

// Set returns a copy of the environment with name set to value. The
// receiver is not modified.
func (e Environment) Set(name, value string) Environment {
	clone := e.clone()
	clone.values[name] = value
	return clone
}

// SetAll returns a copy of the environment with every entry of extra
// applied. The receiver is not modified.
func (e Environment) SetAll(extra map[string]string) Environment {
	if len(extra) == 0 {
		return e
	}
	clone := e.clone()
	for name, value := range extra {
		clone.values[name] = value
	}
	return clone
}

// PrependPath returns a copy of the environment with directory at the
// front of PATH. Directories already on PATH are moved to the front
// rather than duplicated.
func (e Environment) PrependPath(directory string) Environment {
	clone := e.clone()

	var kept []string
	for _, entry := range strings.Split(clone.values["PATH"], string(os.PathListSeparator)) {
		if entry != "" && entry != directory {
			kept = append(kept, entry)
		}
	}

	entries := append([]string{directory}, kept...)
	clone.values["PATH"] = strings.Join(entries, string(os.PathListSeparator))
	return clone
}

// Environ renders the environment in the os.Environ "NAME=value" form
// expected by exec.Cmd. Entries are sorted for deterministic output
// and stable tests.
func (e Environment) Environ() []string {
	entries := make([]string, 0, len(e.values))
	for name, value := range e.values {
		entries = append(entries, name+"="+value)
	}
	sort.Strings(entries)
	return entries
}

// Len returns the number of variables set.
func (e Environment) Len() int {
	return len(e.values)
}

func (e Environment) clone() Environment {
	values := make(map[string]string, len(e.values)+1)
	for name, value := range e.values {
		values[name] = value
	}
	return Environment{values: values}
}
