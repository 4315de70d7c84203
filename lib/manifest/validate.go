// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/benchrig/benchrig/lib/checksum"
)

// Validate checks a Manifest for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the manifest
// is valid.
//
// Structural checks include:
//   - At least one step or a test command is required
//   - Each step must have a non-empty Name
//   - Each step must set exactly one action (packages, fetch, run,
//     env, display)
//   - Fetch URLs must be http(s); checksums must parse; build and bin
//     require extract
//   - Timeout and display wait (when present) must be parseable by
//     time.ParseDuration
//   - Notify must have a URL and only "success"/"failure" in On
func Validate(m *Manifest) []string {
	var issues []string

	if len(m.Steps) == 0 && m.Test == nil {
		issues = append(issues, "manifest has no steps and no test command (nothing to do)")
	}

	for index, step := range m.Steps {
		prefix := fmt.Sprintf("steps[%d]", index)

		if step.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
		} else {
			prefix = fmt.Sprintf("steps[%d] %q", index, step.Name)
		}

		actions := 0
		if len(step.Packages) > 0 {
			actions++
		}
		if step.Fetch != nil {
			actions++
		}
		if step.Run != "" {
			actions++
		}
		if len(step.Env) > 0 {
			actions++
		}
		if step.Display != nil {
			actions++
		}

		switch actions {
		case 0:
			issues = append(issues, fmt.Sprintf("%s: must set exactly one of packages, fetch, run, env, display", prefix))
		case 1:
		default:
			issues = append(issues, fmt.Sprintf("%s: packages, fetch, run, env, and display are mutually exclusive (set exactly one)", prefix))
		}

		if step.Timeout != "" {
			if _, err := time.ParseDuration(step.Timeout); err != nil {
				issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, step.Timeout, err))
			}
		}

		if step.Fetch != nil {
			issues = append(issues, validateFetch(prefix, step.Fetch)...)
		}
		if step.Display != nil {
			issues = append(issues, validateDisplay(prefix, step.Display)...)
		}

		for position, pkg := range step.Packages {
			if strings.TrimSpace(pkg) == "" {
				issues = append(issues, fmt.Sprintf("%s: packages[%d] is empty", prefix, position))
			}
		}
	}

	if m.Test != nil {
		if m.Test.Run == "" {
			issues = append(issues, "test: run is required")
		}
		if m.Test.Timeout != "" {
			if _, err := time.ParseDuration(m.Test.Timeout); err != nil {
				issues = append(issues, fmt.Sprintf("test: invalid timeout %q: %v", m.Test.Timeout, err))
			}
		}
	}

	if m.Notify != nil {
		if m.Notify.URL == "" {
			issues = append(issues, "notify: url is required")
		}
		for _, conclusion := range m.Notify.On {
			if conclusion != "success" && conclusion != "failure" {
				issues = append(issues, fmt.Sprintf("notify: invalid on value %q (want success or failure)", conclusion))
			}
		}
	}

	return issues
}

func validateFetch(prefix string, fetch *FetchSpec) []string {
	var issues []string

	if fetch.URL == "" {
		issues = append(issues, fmt.Sprintf("%s: fetch.url is required", prefix))
	} else if !strings.HasPrefix(fetch.URL, "http://") && !strings.HasPrefix(fetch.URL, "https://") &&
		!strings.Contains(fetch.URL, "${") {
		// URLs built from variables are checked again after expansion.
		issues = append(issues, fmt.Sprintf("%s: fetch.url %q is not http(s)", prefix, fetch.URL))
	}

	if fetch.Checksum != "" && !strings.Contains(fetch.Checksum, "${") {
		if _, err := checksum.Parse(fetch.Checksum); err != nil {
			issues = append(issues, fmt.Sprintf("%s: fetch.checksum: %v", prefix, err))
		}
	}

	if !fetch.Extract {
		if fetch.Build != "" {
			issues = append(issues, fmt.Sprintf("%s: fetch.build requires fetch.extract", prefix))
		}
		if fetch.Bin != "" {
			issues = append(issues, fmt.Sprintf("%s: fetch.bin requires fetch.extract", prefix))
		}
	}

	return issues
}

func validateDisplay(prefix string, display *DisplaySpec) []string {
	var issues []string

	if display.Number != nil && *display.Number < 0 {
		issues = append(issues, fmt.Sprintf("%s: display.number must be non-negative", prefix))
	}
	if display.Wait != "" {
		if _, err := time.ParseDuration(display.Wait); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid display.wait %q: %v", prefix, display.Wait, err))
		}
	}

	return issues
}
