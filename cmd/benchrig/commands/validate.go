// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/benchrig/benchrig/cmd/benchrig/cli"
	"github.com/benchrig/benchrig/lib/manifest"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check manifests for errors without running anything",
		Description: `Parse one or more manifests and report structural problems:
steps with no action or several actions, malformed checksums and
timeouts, invalid notify configuration. Variable references are not
resolved; they are checked at run time against --var and the
environment.`,
		Usage: "benchrig validate <manifest.jsonc> [...]",
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("expected at least one manifest path")
			}

			failures := 0
			for _, path := range args {
				m, err := manifest.ReadFile(path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failures++
					continue
				}
				issues := manifest.Validate(m)
				if len(issues) == 0 {
					fmt.Printf("%s: ok (%d steps)\n", path, len(m.Steps))
					continue
				}
				failures++
				fmt.Fprintf(os.Stderr, "%s: %d issues\n", path, len(issues))
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "  %s\n", issue)
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d manifests failed validation", failures, len(args))
			}
			return nil
		},
	}
}
