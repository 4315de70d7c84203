// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/benchrig/benchrig/lib/manifest"
)

// defaultStepTimeout is used when a step does not specify its own
// timeout. Archive builds on slow machines fit comfortably.
const defaultStepTimeout = 10 * time.Minute

// defaultTestTimeout bounds the test command when the manifest does
// not. Test suites with plot rendering and alignment fixtures run
// long; the bound only exists so a hung suite cannot wedge the run.
const defaultTestTimeout = time.Hour

// termGracePeriod is how long a timed-out run step, build command, or
// test command gets between SIGTERM and SIGKILL, so it can flush
// partial output before dying. When guards get no grace: they are
// quick probes with nothing to flush.
const termGracePeriod = 5 * time.Second

// StepStatus is the outcome class of a single step.
type StepStatus string

const (
	StatusOK      StepStatus = "ok"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// StepResult captures the outcome of executing a single step.
type StepResult struct {
	Name     string
	Status   StepStatus
	Duration time.Duration
	Err      error
}

// Observer receives step lifecycle notifications during a run. The
// CLI uses it for progress output and the JSONL result log; a nil
// observer disables notifications.
type Observer interface {
	StepStarted(index, total int, name string)
	StepFinished(index, total int, result StepResult)
}

// Options configures an Engine.
type Options struct {
	// Logger receives structured progress and diagnostics. Required.
	Logger *slog.Logger

	// WorkDir holds downloads in flight. Required.
	WorkDir string

	// ToolsDir is where fetched archives are extracted, one
	// subdirectory per fetch step. Required.
	ToolsDir string

	// Cache is the download cache. Nil disables caching.
	Cache *Cache

	// PackageCommand is the argv prefix for installing system
	// packages; the step's package list is appended. Defaults to
	// apt-get install -y --no-install-recommends.
	PackageCommand []string

	// Sudo prefixes the package command with sudo. CI images run
	// provisioning as root; developer machines usually don't.
	Sudo bool

	// Stdout and Stderr receive step command output. Default to the
	// process's own streams.
	Stdout io.Writer
	Stderr io.Writer

	// HTTPClient performs archive downloads. Defaults to a client
	// with sensible timeouts.
	HTTPClient *http.Client

	// StepTimeout is the deadline for steps that declare no timeout
	// of their own. Zero means 10 minutes.
	StepTimeout time.Duration

	// TestTimeout is the deadline for the test command when the
	// manifest declares none. Zero means one hour.
	TestTimeout time.Duration

	// Observer receives step lifecycle notifications. Optional.
	Observer Observer

	// BaseEnvironment is the environment steps build on. Defaults
	// to a snapshot of the process environment.
	BaseEnvironment *Environment
}

// defaultPackageCommand installs Debian/Ubuntu packages
// non-interactively, matching the CI images this tool provisions.
var defaultPackageCommand = []string{"apt-get", "install", "-y", "--no-install-recommends"}

// Engine executes a manifest's provisioning steps strictly in order,
// fail-fast, threading an explicit Environment from step to step, and
// finally runs the test command in the fully provisioned environment.
//
// An Engine is single-use: create one per run and Close it when the
// run finishes so background processes (the display server) are torn
// down.
type Engine struct {
	logger         *slog.Logger
	workDir        string
	toolsDir       string
	cache          *Cache
	packageCommand []string
	sudo           bool
	stdout         io.Writer
	stderr         io.Writer
	httpClient     *http.Client
	stepTimeout    time.Duration
	testTimeout    time.Duration
	observer       Observer

	env     Environment
	display *displayServer
	results []StepResult
}

// NewEngine validates options and creates a run engine. The work and
// tools directories are created if missing.
func NewEngine(options Options) (*Engine, error) {
	if options.Logger == nil {
		return nil, fmt.Errorf("provision: Options.Logger is required")
	}
	if options.WorkDir == "" || options.ToolsDir == "" {
		return nil, fmt.Errorf("provision: Options.WorkDir and Options.ToolsDir are required")
	}
	for _, dir := range []string{options.WorkDir, options.ToolsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	packageCommand := options.PackageCommand
	if len(packageCommand) == 0 {
		packageCommand = defaultPackageCommand
	}

	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Minute}
	}

	stepTimeout := options.StepTimeout
	if stepTimeout == 0 {
		stepTimeout = defaultStepTimeout
	}
	testTimeout := options.TestTimeout
	if testTimeout == 0 {
		testTimeout = defaultTestTimeout
	}

	env := SystemEnvironment()
	if options.BaseEnvironment != nil {
		env = *options.BaseEnvironment
	}

	return &Engine{
		logger:         options.Logger,
		workDir:        options.WorkDir,
		toolsDir:       options.ToolsDir,
		cache:          options.Cache,
		packageCommand: packageCommand,
		sudo:           options.Sudo,
		stdout:         stdout,
		stderr:         stderr,
		httpClient:     httpClient,
		stepTimeout:    stepTimeout,
		testTimeout:    testTimeout,
		observer:       options.Observer,
		env:            env,
	}, nil
}

// Environment returns the engine's current environment: the base
// snapshot plus every mutation applied by completed steps.
func (e *Engine) Environment() Environment {
	return e.env
}

// Results returns the step results accumulated so far, in execution
// order.
func (e *Engine) Results() []StepResult {
	return e.results
}

// Close tears down background processes started during provisioning.
// Always call it, even after a failed run.
func (e *Engine) Close() {
	if e.display != nil {
		e.display.Stop()
		e.display = nil
	}
}

// Provision executes the manifest's steps in order. Execution is
// fail-fast: the first non-optional failure stops the run and no
// subsequent step executes. Optional step failures are recorded and
// logged, and the run continues.
//
// Variables must already be resolved (manifest.ResolveVariables);
// each step is expanded against them immediately before execution.
func (e *Engine) Provision(ctx context.Context, m *manifest.Manifest, variables map[string]string) error {
	total := len(m.Steps)
	for index, step := range m.Steps {
		expanded, err := manifest.ExpandStep(step, variables)
		if err != nil {
			result := StepResult{Name: step.Name, Status: StatusFailed, Err: err}
			e.record(index, total, result)
			return fmt.Errorf("expanding step %q: %w", step.Name, err)
		}

		if e.observer != nil {
			e.observer.StepStarted(index, total, expanded.Name)
		}
		result := e.executeStep(ctx, expanded)
		e.record(index, total, result)

		if result.Status == StatusFailed {
			if expanded.Optional {
				e.logger.Warn("optional step failed, continuing",
					"step", expanded.Name, "error", result.Err)
				continue
			}
			return fmt.Errorf("step %q failed: %w", expanded.Name, result.Err)
		}
	}
	return nil
}

// TestResult is the outcome of the test command.
type TestResult struct {
	ExitCode int
	Duration time.Duration
}

// RunTest executes the manifest's test command exactly once, in the
// fully provisioned environment. A non-zero exit code is reported in
// the result, not as an error — the distinction between "the suite
// failed" and "the suite could not be run" matters to callers.
func (e *Engine) RunTest(ctx context.Context, test manifest.TestSpec, variables map[string]string) (TestResult, error) {
	expanded, err := manifest.ExpandTest(test, variables)
	if err != nil {
		return TestResult{}, err
	}

	timeout := e.testTimeout
	if expanded.Timeout != "" {
		parsed, err := time.ParseDuration(expanded.Timeout)
		if err != nil {
			return TestResult{}, fmt.Errorf("invalid test timeout %q: %w", expanded.Timeout, err)
		}
		timeout = parsed
	}

	testContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Info("running test command", "command", expanded.Run)
	started := time.Now()
	exitCode, err := runShell(testContext, expanded.Run, "", e.env, expanded.Env, termGracePeriod, e.stdout, e.stderr)
	duration := time.Since(started)
	if err != nil {
		return TestResult{Duration: duration}, fmt.Errorf("running test command: %w", err)
	}

	return TestResult{ExitCode: exitCode, Duration: duration}, nil
}

func (e *Engine) record(index, total int, result StepResult) {
	e.results = append(e.results, result)
	if e.observer != nil {
		e.observer.StepFinished(index, total, result)
	}
}

// executeStep runs a single expanded step: evaluates the when guard,
// dispatches on the step's action, and folds any environment changes
// into the engine.
func (e *Engine) executeStep(ctx context.Context, step manifest.Step) StepResult {
	startTime := time.Now()

	timeout := e.stepTimeout
	if step.Timeout != "" {
		parsed, err := time.ParseDuration(step.Timeout)
		if err != nil {
			// Validate should have caught this, but fail loud if not.
			return StepResult{
				Name:     step.Name,
				Status:   StatusFailed,
				Duration: time.Since(startTime),
				Err:      fmt.Errorf("invalid timeout %q: %w", step.Timeout, err),
			}
		}
		timeout = parsed
	}

	stepContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// When guards are quick verification commands — immediate SIGKILL
	// on timeout.
	if step.When != "" {
		exitCode, err := runShell(stepContext, step.When, "", e.env, step.StepEnv, 0, e.stdout, e.stderr)
		if err != nil {
			return StepResult{
				Name:     step.Name,
				Status:   StatusFailed,
				Duration: time.Since(startTime),
				Err:      fmt.Errorf("when guard: %w", err),
			}
		}
		if exitCode != 0 {
			duration := time.Since(startTime)
			e.logger.Info("step skipped (guard condition not met)", "step", step.Name)
			return StepResult{Name: step.Name, Status: StatusSkipped, Duration: duration}
		}
	}

	var err error
	switch {
	case len(step.Packages) > 0:
		err = e.executePackages(stepContext, step)

	case step.Fetch != nil:
		var result fetchResult
		result, err = e.executeFetch(stepContext, step)
		if err == nil && result.binDir != "" {
			e.env = e.env.PrependPath(result.binDir)
			e.logger.Info("extended PATH", "step", step.Name, "dir", result.binDir)
		}

	case step.Run != "":
		var exitCode int
		exitCode, err = runShell(stepContext, step.Run, "", e.env, step.StepEnv, termGracePeriod, e.stdout, e.stderr)
		if err == nil && exitCode != 0 {
			err = fmt.Errorf("exit code %d", exitCode)
		}

	case len(step.Env) > 0:
		e.env = e.env.SetAll(step.Env)

	case step.Display != nil:
		err = e.executeDisplay(ctx, step)

	default:
		err = fmt.Errorf("step has no action (validation should have rejected it)")
	}

	duration := time.Since(startTime)
	if err != nil {
		return StepResult{Name: step.Name, Status: StatusFailed, Duration: duration, Err: err}
	}

	e.logger.Info("step ok", "step", step.Name, "duration", duration.Round(time.Millisecond).String())
	return StepResult{Name: step.Name, Status: StatusOK, Duration: duration}
}

// executePackages installs the step's package list in a single
// package-manager invocation.
func (e *Engine) executePackages(ctx context.Context, step manifest.Step) error {
	argv := make([]string, 0, len(e.packageCommand)+len(step.Packages)+1)
	if e.sudo {
		argv = append(argv, "sudo")
	}
	argv = append(argv, e.packageCommand...)
	argv = append(argv, step.Packages...)

	e.logger.Info("installing packages", "step", step.Name, "packages", strings.Join(step.Packages, " "))
	exitCode, err := runArgv(ctx, argv, e.env.SetAll(step.StepEnv), e.stdout, e.stderr)
	if err != nil {
		return fmt.Errorf("package install: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("package install: exit code %d", exitCode)
	}
	return nil
}

// executeDisplay starts the virtual display and exports DISPLAY to
// the run environment. One display per run: a second display step is
// a manifest bug.
//
// The display intentionally receives the run context, not the step
// timeout context — it must outlive the step that started it.
func (e *Engine) executeDisplay(ctx context.Context, step manifest.Step) error {
	if e.display != nil {
		return fmt.Errorf("a display server is already running")
	}

	display, displayValue, err := startDisplay(ctx, *step.Display, e.env, e.logger, e.stdout, e.stderr)
	if err != nil {
		return err
	}

	e.display = display
	e.env = e.env.Set("DISPLAY", displayValue)
	return nil
}
