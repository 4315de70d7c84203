// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benchrig/benchrig/lib/manifest"
)

func testEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()

	options := Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		WorkDir:  t.TempDir(),
		ToolsDir: t.TempDir(),
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if mutate != nil {
		mutate(&options)
	}

	engine, err := NewEngine(options)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestProvisionRunsStepsInOrder(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	dir := t.TempDir()
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "first", Run: "echo 1 >> " + filepath.Join(dir, "order")},
			{Name: "second", Run: "echo 2 >> " + filepath.Join(dir, "order")},
		},
	}

	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "order"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "1\n2\n" {
		t.Errorf("order file = %q, want steps executed in manifest order", content)
	}

	results := engine.Results()
	if len(results) != 2 || results[0].Status != StatusOK || results[1].Status != StatusOK {
		t.Errorf("results = %+v", results)
	}
}

func TestProvisionFailFast(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	marker := filepath.Join(t.TempDir(), "marker")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "broken", Run: "exit 1"},
			{Name: "never runs", Run: "touch " + marker},
		},
	}

	err := engine.Provision(context.Background(), m, nil)
	if err == nil {
		t.Fatal("Provision succeeded, want failure")
	}
	if !strings.Contains(err.Error(), `"broken"`) {
		t.Errorf("error %q does not name the failed step", err)
	}

	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("step after a failure executed; fail-fast violated")
	}
	if results := engine.Results(); len(results) != 1 || results[0].Status != StatusFailed {
		t.Errorf("results = %+v, want exactly the failed step", results)
	}
}

func TestProvisionOptionalStepFailureContinues(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	marker := filepath.Join(t.TempDir(), "marker")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "best effort", Run: "exit 3", Optional: true},
			{Name: "still runs", Run: "touch " + marker},
		},
	}

	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("step after an optional failure did not execute")
	}

	results := engine.Results()
	if results[0].Status != StatusFailed || results[1].Status != StatusOK {
		t.Errorf("results = %+v", results)
	}
}

func TestProvisionWhenGuardSkips(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	marker := filepath.Join(t.TempDir(), "marker")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "guarded", When: "false", Run: "touch " + marker},
		},
	}

	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("guarded step ran despite failing guard")
	}
	if results := engine.Results(); results[0].Status != StatusSkipped {
		t.Errorf("results = %+v, want skipped", results)
	}
}

func TestEnvStepVisibleToLaterSteps(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	out := filepath.Join(t.TempDir(), "out")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "export", Env: map[string]string{"BIO_SUITE_MODE": "headless"}},
			{Name: "read", Run: `printf "%s" "$BIO_SUITE_MODE" > ` + out},
		},
	}

	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "headless" {
		t.Errorf("later step saw BIO_SUITE_MODE=%q, want %q", content, "headless")
	}
	if engine.Environment().Get("BIO_SUITE_MODE") != "headless" {
		t.Error("engine environment missing exported variable")
	}
	if os.Getenv("BIO_SUITE_MODE") != "" {
		t.Error("env step leaked into the test process's own environment")
	}
}

func TestProvisionExpandsVariables(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	out := filepath.Join(t.TempDir(), "out")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "versioned", Run: `printf "%s" "${VERSION}" > ` + out},
		},
	}

	if err := engine.Provision(context.Background(), m, map[string]string{"VERSION": "2.17"}); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	content, _ := os.ReadFile(out)
	if string(content) != "2.17" {
		t.Errorf("expanded step wrote %q, want 2.17", content)
	}
}

func TestProvisionStepTimeout(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "hangs", Run: "sleep 30", Timeout: "100ms"},
		},
	}

	started := time.Now()
	err := engine.Provision(context.Background(), m, nil)
	if err == nil {
		t.Fatal("Provision succeeded, want timeout failure")
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("timeout took %v, step was not killed promptly", elapsed)
	}
}

func TestProvisionStepTimeoutTerminatesGracefully(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	marker := filepath.Join(t.TempDir(), "marker")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{
				Name:    "traps term",
				Run:     "trap 'touch " + marker + "' TERM; sleep 30",
				Timeout: "100ms",
			},
		},
	}

	if err := engine.Provision(context.Background(), m, nil); err == nil {
		t.Fatal("Provision succeeded, want timeout failure")
	}

	// The trap fires only if the shell received SIGTERM before being
	// killed; an immediate SIGKILL leaves no marker.
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("timed-out step got no SIGTERM before the kill: %v", err)
	}
}

func TestOptionsStepTimeoutBoundsUndeclaredSteps(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, func(o *Options) { o.StepTimeout = 100 * time.Millisecond })
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "hangs without own timeout", Run: "sleep 30"},
		},
	}

	started := time.Now()
	if err := engine.Provision(context.Background(), m, nil); err == nil {
		t.Fatal("Provision succeeded, want failure from the configured default timeout")
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("default timeout took %v, step was not killed promptly", elapsed)
	}

	// A per-step timeout still overrides the configured default.
	engine = testEngine(t, func(o *Options) { o.StepTimeout = 50 * time.Millisecond })
	m = &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "declares its own", Run: "sleep 0.2", Timeout: "10s"},
		},
	}
	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v (manifest timeout should override the default)", err)
	}
}

func TestOptionsTestTimeoutBoundsTestCommand(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, func(o *Options) { o.TestTimeout = 100 * time.Millisecond })

	_, err := engine.RunTest(context.Background(), manifest.TestSpec{Run: "sleep 30"}, nil)
	if err == nil {
		t.Fatal("RunTest succeeded, want failure from the configured default timeout")
	}
}

func TestRunTestReportsExitCode(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)

	result, err := engine.RunTest(context.Background(), manifest.TestSpec{Run: "exit 7"}, nil)
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}

	result, err = engine.RunTest(context.Background(), manifest.TestSpec{Run: "true"}, nil)
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestRunTestSeesProvisionedEnvironment(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	out := filepath.Join(t.TempDir(), "out")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "export display", Env: map[string]string{"DISPLAY": ":99.0"}},
		},
	}
	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	result, err := engine.RunTest(context.Background(), manifest.TestSpec{
		Run: `printf "%s" "$DISPLAY" > ` + out,
	}, nil)
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d", result.ExitCode)
	}
	content, _ := os.ReadFile(out)
	if string(content) != ":99.0" {
		t.Errorf("test command saw DISPLAY=%q, want :99.0", content)
	}
}

type recordingObserver struct {
	started  []string
	finished []StepResult
}

func (r *recordingObserver) StepStarted(index, total int, name string) {
	r.started = append(r.started, name)
}

func (r *recordingObserver) StepFinished(index, total int, result StepResult) {
	r.finished = append(r.finished, result)
}

func TestObserverReceivesLifecycle(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	engine := testEngine(t, func(o *Options) { o.Observer = observer })
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "one", Run: "true"},
			{Name: "two", Run: "exit 1"},
		},
	}

	_ = engine.Provision(context.Background(), m, nil)

	if len(observer.started) != 2 || observer.started[1] != "two" {
		t.Errorf("started = %v", observer.started)
	}
	if len(observer.finished) != 2 || observer.finished[1].Status != StatusFailed {
		t.Errorf("finished = %+v", observer.finished)
	}
}
