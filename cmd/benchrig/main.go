// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/benchrig/benchrig/cmd/benchrig/commands"
	"github.com/benchrig/benchrig/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like a failed test
		// summary) return an exitError with the desired exit code.
		// Don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
