// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

// Manifest is a declarative description of a test environment: the
// setup steps that provision it, the test command to run inside it,
// and where to report the outcome.
type Manifest struct {
	// Name identifies the manifest in logs and notifications. When
	// empty, the name is derived from the file path.
	Name string `json:"name,omitempty"`

	// Variables declares the variables available for ${NAME}
	// expansion in steps, the test command, and the notify URL.
	Variables map[string]Variable `json:"variables,omitempty"`

	// Steps are the provisioning steps, executed strictly in order.
	Steps []Step `json:"steps"`

	// Test is the command to run once provisioning succeeds.
	Test *TestSpec `json:"test,omitempty"`

	// Notify configures the webhook that receives the run report.
	Notify *NotifySpec `json:"notify,omitempty"`
}

// Variable declares a single manifest variable.
type Variable struct {
	// Default is the value used when neither the payload nor the
	// environment provides one.
	Default string `json:"default,omitempty"`

	// Required makes variable resolution fail when no source
	// provides a value.
	Required bool `json:"required,omitempty"`

	// Description documents the variable for manifest readers.
	Description string `json:"description,omitempty"`
}

// Step is a single provisioning step. Exactly one of the action
// fields (Packages, Fetch, Run, Env, Display) must be set.
type Step struct {
	// Name identifies the step in logs and result entries.
	Name string `json:"name"`

	// Packages installs system packages via the configured package
	// manager, in a single invocation.
	Packages []string `json:"packages,omitempty"`

	// Fetch downloads a tool archive, verifies it, extracts it, and
	// optionally builds it and extends PATH.
	Fetch *FetchSpec `json:"fetch,omitempty"`

	// Run executes an arbitrary shell command.
	Run string `json:"run,omitempty"`

	// Env sets environment variables visible to all later steps and
	// to the test command.
	Env map[string]string `json:"env,omitempty"`

	// Display starts a virtual framebuffer display server.
	Display *DisplaySpec `json:"display,omitempty"`

	// When is a guard command: when it exits non-zero, the step is
	// skipped (not failed).
	When string `json:"when,omitempty"`

	// Optional makes a failure of this step non-fatal: the failure
	// is logged and the run continues.
	Optional bool `json:"optional,omitempty"`

	// Timeout bounds the step's execution (time.ParseDuration
	// format). Empty means the engine default.
	Timeout string `json:"timeout,omitempty"`

	// StepEnv sets extra environment variables for this step's
	// commands only, without mutating the run environment.
	StepEnv map[string]string `json:"step_env,omitempty"`
}

// FetchSpec describes a tool archive to download and install.
type FetchSpec struct {
	// URL is the archive location. HTTP and HTTPS only.
	URL string `json:"url"`

	// Checksum is the expected digest of the downloaded archive in
	// "sha256-<hex>" or "b3-<hex>" form. Empty disables verification
	// (and caching, which is keyed by checksum).
	Checksum string `json:"checksum,omitempty"`

	// Extract unpacks the archive into the tools directory. The
	// compression format is detected from the URL's file extension
	// (.tar.gz, .tar.bz2, .tar.zst, .tar.lz4, .tgz).
	Extract bool `json:"extract,omitempty"`

	// Build is a shell command run inside the extracted directory
	// (e.g. "make"). Only valid when Extract is set.
	Build string `json:"build,omitempty"`

	// Bin is a path relative to the extracted directory that is
	// prepended to PATH after a successful build (often "." or
	// "bin"). Only valid when Extract is set.
	Bin string `json:"bin,omitempty"`
}

// DisplaySpec describes a virtual framebuffer display server.
type DisplaySpec struct {
	// Server is the display server binary. Defaults to "Xvfb".
	Server string `json:"server,omitempty"`

	// Number is the X display number (":N"). Nil defaults to 99; an
	// explicit 0 selects the host's primary display.
	Number *int `json:"number,omitempty"`

	// Args are extra server arguments (screen geometry etc.).
	Args []string `json:"args,omitempty"`

	// Wait is how long to wait after starting the server before
	// declaring it up (time.ParseDuration format). The server offers
	// no readiness signal, so this is a fixed grace period; after the
	// wait the engine confirms the process is still running.
	// Defaults to 3s.
	Wait string `json:"wait,omitempty"`
}

// TestSpec is the test command that the provisioned environment exists
// to serve.
type TestSpec struct {
	// Run is the test invocation (e.g. "pytest").
	Run string `json:"run"`

	// Timeout bounds the test run. Empty means the engine default.
	Timeout string `json:"timeout,omitempty"`

	// Env sets extra environment variables for the test command.
	Env map[string]string `json:"env,omitempty"`
}

// NotifySpec configures the outcome webhook.
type NotifySpec struct {
	// URL is the webhook endpoint receiving the JSON run report.
	URL string `json:"url"`

	// On lists the conclusions that trigger a notification. Valid
	// values are "success" and "failure". Empty means both.
	On []string `json:"on,omitempty"`

	// Token is an optional bearer token sent in the Authorization
	// header. Usually supplied via a variable reference so the
	// secret stays out of the manifest file.
	Token string `json:"token,omitempty"`
}
