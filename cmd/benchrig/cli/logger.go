// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a structured logger for CLI command operations.
// When stderr is a terminal, uses slog.TextHandler for human-readable output.
// When stderr is piped or redirected (CI, scripts, integration tests),
// uses slog.JSONHandler for machine-parseable output.
//
// The BENCHRIG_DEBUG environment variable lowers the level to debug
// regardless of the configured level.
//
// Callers scope the logger with command-specific context via With():
//
//	logger := cli.NewCommandLogger("info").With("manifest", name)
func NewCommandLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	if os.Getenv("BENCHRIG_DEBUG") != "" {
		slogLevel = slog.LevelDebug
	}

	var handler slog.Handler
	options := &slog.HandlerOptions{Level: slogLevel}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
