// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/benchrig/benchrig/lib/provision"
)

// resultLog writes structured JSONL to a file during a run. Each line
// is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-run preserves all completed step
//     results. A single JSON file would be truncated and unparseable.
//   - Streamable: a CI supervisor can tail the file for real-time
//     step-by-step progress instead of waiting for completion.
//
// The file path comes from the --result-log flag or the
// BENCHRIG_RESULT_PATH environment variable. When neither is set, the
// result log is disabled (all methods are nil-safe no-ops).
//
// resultLog implements [provision.Observer] so the engine writes a
// step line as each step finishes.
type resultLog struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
}

// newResultLog creates a JSONL result log at the given path. The file
// is created (truncating any existing content) immediately. Returns an
// error if the file cannot be created.
func newResultLog(path string, logger *slog.Logger) (*resultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &resultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the result log file.
func (r *resultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

// writeStart records run start.
func (r *resultLog) writeStart(manifest string, stepCount int) {
	if r == nil {
		return
	}
	r.write(resultStartEntry{
		Type:      "start",
		Manifest:  manifest,
		StepCount: stepCount,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// StepStarted implements provision.Observer. Start events are not
// logged as lines; only completed steps appear in the file.
func (r *resultLog) StepStarted(index, total int, name string) {}

// StepFinished implements provision.Observer, recording the outcome of
// a single step.
func (r *resultLog) StepFinished(index, total int, result provision.StepResult) {
	if r == nil {
		return
	}
	entry := resultStepEntry{
		Type:       "step",
		Index:      index,
		Name:       result.Name,
		Status:     string(result.Status),
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	r.write(entry)
}

// writeComplete records successful run completion. testExitCode is -1
// for provision-only runs with no test command.
func (r *resultLog) writeComplete(durationMS int64, testExitCode int) {
	if r == nil {
		return
	}
	r.write(resultCompleteEntry{
		Type:         "complete",
		Status:       "ok",
		DurationMS:   durationMS,
		TestExitCode: testExitCode,
	})
}

// writeFailed records run failure.
func (r *resultLog) writeFailed(stage, failedStep, errorMessage string, durationMS int64) {
	if r == nil {
		return
	}
	r.write(resultFailedEntry{
		Type:       "failed",
		Status:     "failed",
		Stage:      stage,
		Error:      errorMessage,
		FailedStep: failedStep,
		DurationMS: durationMS,
	})
}

// writeTestFailed records a run whose test command executed to
// completion but exited non-zero. The rig worked; the suite did not.
func (r *resultLog) writeTestFailed(exitCode int, durationMS int64) {
	if r == nil {
		return
	}
	r.write(resultFailedEntry{
		Type:         "failed",
		Status:       "failed",
		Stage:        "test",
		Error:        fmt.Sprintf("test command exited with code %d", exitCode),
		TestExitCode: exitCode,
		DurationMS:   durationMS,
	})
}

func (r *resultLog) write(entry any) {
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	// Sync after each line so that partial results survive a crash and
	// are visible to readers (a supervisor tailing for progress)
	// immediately.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// JSONL entry types. Each struct documents exactly which fields appear
// in that line type. Separate structs (rather than one with omitempty
// everywhere) make the wire format explicit and self-documenting.

// resultStartEntry is the first line, written at run start.
type resultStartEntry struct {
	Type      string `json:"type"`
	Manifest  string `json:"manifest"`
	StepCount int    `json:"step_count"`
	Timestamp string `json:"timestamp"`
}

// resultStepEntry is written after each step completes (or is skipped).
type resultStepEntry struct {
	Type       string `json:"type"`
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// resultCompleteEntry is the last line on successful completion.
type resultCompleteEntry struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	DurationMS   int64  `json:"duration_ms"`
	TestExitCode int    `json:"test_exit_code"`
}

// resultFailedEntry is the last line when the run fails, either during
// provisioning (stage "provision") or because the test command could
// not run or exited non-zero (stage "test").
type resultFailedEntry struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	Stage        string `json:"stage"`
	Error        string `json:"error"`
	FailedStep   string `json:"failed_step,omitempty"`
	TestExitCode int    `json:"test_exit_code,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}
