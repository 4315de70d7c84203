// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/benchrig/benchrig/lib/provision"
)

// Summary styles. Lipgloss degrades to plain text when stdout is not
// a color terminal, so these are safe for CI logs.
var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true)
	stepNameStyle     = lipgloss.NewStyle().Width(32)
	okStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	skippedStyle      = lipgloss.NewStyle().Faint(true)
	durationStyle     = lipgloss.NewStyle().Faint(true)
)

// renderSummary formats the per-step outcomes and the run's verdict
// for terminal output. testResult is nil for provision-only runs and
// for runs that failed before the test command started.
func renderSummary(manifestName string, results []provision.StepResult, testResult *provision.TestResult, total time.Duration) string {
	var out strings.Builder

	fmt.Fprintf(&out, "\n%s\n", summaryTitleStyle.Render(manifestName))

	for _, result := range results {
		var status string
		switch result.Status {
		case provision.StatusOK:
			status = okStyle.Render("ok")
		case provision.StatusSkipped:
			status = skippedStyle.Render("skipped")
		case provision.StatusFailed:
			status = failedStyle.Render("failed")
		}

		line := fmt.Sprintf("  %s %s %s",
			stepNameStyle.Render(result.Name),
			status,
			durationStyle.Render(formatDuration(result.Duration)))
		if result.Err != nil {
			line += "\n      " + failedStyle.Render(result.Err.Error())
		}
		out.WriteString(line + "\n")
	}

	if testResult != nil {
		var verdict string
		if testResult.ExitCode == 0 {
			verdict = okStyle.Render("passed")
		} else {
			verdict = failedStyle.Render(fmt.Sprintf("failed (exit %d)", testResult.ExitCode))
		}
		fmt.Fprintf(&out, "  %s %s %s\n",
			stepNameStyle.Render("test"),
			verdict,
			durationStyle.Render(formatDuration(testResult.Duration)))
	}

	fmt.Fprintf(&out, "  total %s\n", durationStyle.Render(formatDuration(total)))
	return out.String()
}

// formatDuration rounds durations for human consumption: milliseconds
// under a second, tenths of a second under a minute, whole seconds
// beyond that.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
