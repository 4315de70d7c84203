// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit codes for the benchrig binary. The distinction between setup
// and test failure is the CLI's one piece of structured error
// reporting: callers (CI jobs, wrappers) can tell "the environment
// could not be provisioned" from "the suite ran and failed" without
// parsing output.
const (
	// ExitSuccess: provisioning and the test suite both succeeded.
	ExitSuccess = 0

	// ExitSetupFailure: a provisioning step failed (or the manifest
	// was invalid); the test command never ran.
	ExitSetupFailure = 1

	// ExitTestFailure: provisioning succeeded but the test command
	// exited non-zero.
	ExitTestFailure = 2
)

// Fatal writes "error: err" to stderr and exits with
// ExitSetupFailure. This is the standard benchrig entrypoint error
// handler; use it in main() for errors from run() where the
// structured logger may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitSetupFailure)
}
