// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete benchrig CLI command tree.
//
// run.go holds both the run subcommand (provision + test + notify)
// and the provision subcommand (setup steps only), which share their
// flags and execution path. validate.go holds manifest checks. The
// JSONL result log and the terminal summary live in result.go and
// summary.go.
package commands

import (
	"fmt"

	"github.com/benchrig/benchrig/cmd/benchrig/cli"
	"github.com/benchrig/benchrig/lib/version"
)

// Root builds and returns the complete benchrig CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "benchrig",
		Description: `Benchrig: CI environment provisioner and test runner.

Reads a declarative manifest describing system packages, tool
archives, environment variables, and a virtual display, provisions
the machine accordingly, runs the suite's test command, and reports
the outcome to a webhook.`,
		Subcommands: []*cli.Command{
			runCommand(),
			provisionCommand(),
			validateCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("benchrig %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
