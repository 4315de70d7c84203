// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/benchrig/benchrig/cmd/benchrig/cli"
	"github.com/benchrig/benchrig/lib/config"
	"github.com/benchrig/benchrig/lib/manifest"
	"github.com/benchrig/benchrig/lib/notify"
	"github.com/benchrig/benchrig/lib/process"
	"github.com/benchrig/benchrig/lib/provision"
)

// runFlags holds the flag values shared by the run and provision
// subcommands.
type runFlags struct {
	configPath    string
	vars          []string
	resultLogPath string
	workDir       string
	skipNotify    bool
}

func (f *runFlags) register(flagSet *pflag.FlagSet, withNotify bool) {
	flagSet.StringVar(&f.configPath, "config", "", "path to benchrig.yaml (overrides BENCHRIG_CONFIG)")
	flagSet.StringArrayVar(&f.vars, "var", nil, "manifest variable as NAME=VALUE (repeatable)")
	flagSet.StringVar(&f.resultLogPath, "result-log", "", "write JSONL step results to this file")
	flagSet.StringVar(&f.workDir, "work-dir", "", "override the configured work directory")
	if withNotify {
		flagSet.BoolVar(&f.skipNotify, "skip-notify", false, "skip the webhook notification")
	}
}

func runCommand() *cli.Command {
	flags := &runFlags{}
	return &cli.Command{
		Name:    "run",
		Summary: "Provision the environment and run the test command",
		Description: `Provision the environment described by a manifest, run its test
command, and deliver the outcome to the configured webhook.

Exit codes: 0 when the suite passes, 1 when provisioning or the rig
itself fails, 2 when the suite runs but fails.`,
		Usage: "benchrig run [flags] <manifest.jsonc>",
		Examples: []cli.Example{
			{
				Description: "Run a suite with a CI config",
				Command:     "benchrig run --config ci.yaml suite.jsonc",
			},
			{
				Description: "Override a manifest variable",
				Command:     "benchrig run --var SAMTOOLS_VERSION=1.3.1 suite.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.register(flagSet, true)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one manifest path, got %d args", len(args))
			}
			return executeRun(args[0], flags, true)
		},
	}
}

func provisionCommand() *cli.Command {
	flags := &runFlags{}
	return &cli.Command{
		Name:    "provision",
		Summary: "Provision the environment without running the test command",
		Description: `Execute a manifest's provisioning steps and stop before the test
command. Useful for preparing a machine interactively or debugging a
manifest step by step. No webhook notification is sent.`,
		Usage: "benchrig provision [flags] <manifest.jsonc>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("provision", pflag.ContinueOnError)
			flags.register(flagSet, false)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one manifest path, got %d args", len(args))
			}
			flags.skipNotify = true
			return executeRun(args[0], flags, false)
		},
	}
}

// executeRun is the shared implementation of run and provision.
// withTest controls whether the manifest's test command executes after
// provisioning.
func executeRun(manifestPath string, flags *runFlags, withTest bool) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.workDir != "" {
		cfg.Paths.Work = flags.workDir
	}

	m, err := manifest.ReadFile(manifestPath)
	if err != nil {
		return err
	}

	logger := cli.NewCommandLogger(cfg.LogLevel).With("manifest", m.Name)

	if issues := manifest.Validate(m); len(issues) > 0 {
		return fmt.Errorf("manifest %q has validation errors:\n  %s",
			m.Name, strings.Join(issues, "\n  "))
	}

	payload, err := parseVarFlags(flags.vars)
	if err != nil {
		return err
	}
	variables, err := manifest.ResolveVariables(m.Variables, payload, os.Getenv)
	if err != nil {
		return err
	}

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	cache, err := provision.OpenCache(cfg.Paths.Cache)
	if err != nil {
		return fmt.Errorf("opening download cache: %w", err)
	}

	// JSONL result log. Controlled by --result-log or
	// BENCHRIG_RESULT_PATH; disabled when neither is set.
	resultPath := flags.resultLogPath
	if resultPath == "" {
		resultPath = os.Getenv("BENCHRIG_RESULT_PATH")
	}
	var results *resultLog
	if resultPath != "" {
		results, err = newResultLog(resultPath, logger)
		if err != nil {
			return err
		}
		defer results.Close()
	}

	// Config validation has already checked these parse.
	stepTimeout, _ := cfg.StepTimeout()
	testTimeout, _ := cfg.TestTimeout()

	options := provision.Options{
		Logger:         logger,
		WorkDir:        cfg.Paths.Work,
		ToolsDir:       cfg.Paths.Tools,
		Cache:          cache,
		PackageCommand: cfg.Packages.Command,
		Sudo:           cfg.Packages.Sudo,
		StepTimeout:    stepTimeout,
		TestTimeout:    testTimeout,
	}
	if results != nil {
		options.Observer = results
	}
	engine, err := provision.NewEngine(options)
	if err != nil {
		return err
	}
	defer engine.Close()

	// SIGINT/SIGTERM cancel the run context; the engine's process
	// groups are torn down via the command Cancel hooks.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	started := time.Now()
	results.writeStart(m.Name, len(m.Steps))

	if err := engine.Provision(ctx, m, variables); err != nil {
		total := time.Since(started)
		failedStep := lastFailedStep(engine.Results())
		results.writeFailed("provision", failedStep, err.Error(), total.Milliseconds())
		fmt.Fprint(os.Stdout, renderSummary(m.Name, engine.Results(), nil, total))
		sendReport(logger, cfg, m, variables, flags.skipNotify, notify.Report{
			Manifest:   m.Name,
			Conclusion: notify.Failure,
			Stage:      "provision",
			DurationMS: total.Milliseconds(),
			Steps:      notify.StepReports(engine.Results()),
			FailedStep: failedStep,
			Error:      err.Error(),
		})
		return err
	}

	if !withTest || m.Test == nil {
		total := time.Since(started)
		results.writeComplete(total.Milliseconds(), -1)
		fmt.Fprint(os.Stdout, renderSummary(m.Name, engine.Results(), nil, total))
		if !withTest {
			// Provision-only runs are for preparing a machine: show
			// the PATH the test command would have seen.
			fmt.Printf("  PATH=%s\n", engine.Environment().Get("PATH"))
		}
		sendReport(logger, cfg, m, variables, flags.skipNotify, notify.Report{
			Manifest:   m.Name,
			Conclusion: notify.Success,
			Stage:      "provision",
			DurationMS: total.Milliseconds(),
			Steps:      notify.StepReports(engine.Results()),
		})
		return nil
	}

	testResult, err := engine.RunTest(ctx, *m.Test, variables)
	total := time.Since(started)
	if err != nil {
		// The suite could not be run at all: a rig failure, not a
		// test failure.
		results.writeFailed("test", "", err.Error(), total.Milliseconds())
		fmt.Fprint(os.Stdout, renderSummary(m.Name, engine.Results(), nil, total))
		sendReport(logger, cfg, m, variables, flags.skipNotify, notify.Report{
			Manifest:   m.Name,
			Conclusion: notify.Failure,
			Stage:      "test",
			DurationMS: total.Milliseconds(),
			Steps:      notify.StepReports(engine.Results()),
			Error:      err.Error(),
		})
		return err
	}

	fmt.Fprint(os.Stdout, renderSummary(m.Name, engine.Results(), &testResult, total))

	if testResult.ExitCode != 0 {
		results.writeTestFailed(testResult.ExitCode, total.Milliseconds())
		sendReport(logger, cfg, m, variables, flags.skipNotify, notify.Report{
			Manifest:     m.Name,
			Conclusion:   notify.Failure,
			Stage:        "test",
			DurationMS:   total.Milliseconds(),
			Steps:        notify.StepReports(engine.Results()),
			TestExitCode: testResult.ExitCode,
			Error:        fmt.Sprintf("test command exited with code %d", testResult.ExitCode),
		})
		return &cli.ExitError{Code: process.ExitTestFailure}
	}

	results.writeComplete(total.Milliseconds(), 0)
	sendReport(logger, cfg, m, variables, flags.skipNotify, notify.Report{
		Manifest:   m.Name,
		Conclusion: notify.Success,
		Stage:      "test",
		DurationMS: total.Milliseconds(),
		Steps:      notify.StepReports(engine.Results()),
	})
	return nil
}

// loadConfig resolves the configuration source: the --config flag,
// then BENCHRIG_CONFIG, then built-in defaults. Commands that operate
// on a local manifest work without any config file.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case configPath != "":
		cfg, err = config.LoadFile(configPath)
	case os.Getenv("BENCHRIG_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseVarFlags converts repeated --var NAME=VALUE flags into a
// payload map for variable resolution.
func parseVarFlags(pairs []string) (map[string]string, error) {
	payload := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("malformed --var %q: expected NAME=VALUE", pair)
		}
		payload[name] = value
	}
	return payload, nil
}

// lastFailedStep returns the name of the most recent failed step, or
// "" when no step failed (e.g. expansion errors before execution).
func lastFailedStep(results []provision.StepResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Status == provision.StatusFailed {
			return results[i].Name
		}
	}
	return ""
}

// sendReport delivers the run outcome to the webhook. Delivery is
// best-effort: failures are logged, never fatal, and never change the
// run's exit code. A fresh context is used so that a SIGTERM that
// canceled the run does not also cancel the failure notification.
func sendReport(logger *slog.Logger, cfg *config.Config, m *manifest.Manifest, variables map[string]string, skip bool, report notify.Report) {
	if skip {
		return
	}

	url := cfg.Notify.URL
	token := cfg.Notify.Token
	var on []string
	if m.Notify != nil {
		on = m.Notify.On
		var err error
		if m.Notify.URL != "" {
			url, err = manifest.Expand(m.Notify.URL, variables)
			if err != nil {
				logger.Warn("expanding notify url", "error", err)
				return
			}
		}
		if m.Notify.Token != "" {
			token, err = manifest.Expand(m.Notify.Token, variables)
			if err != nil {
				logger.Warn("expanding notify token", "error", err)
				return
			}
		}
	}
	if url == "" {
		logger.Debug("no webhook configured, skipping notification")
		return
	}
	if !notify.ShouldNotify(on, report.Conclusion) {
		logger.Debug("webhook not subscribed to this conclusion", "conclusion", report.Conclusion)
		return
	}

	if hostname, err := os.Hostname(); err == nil {
		report.Host = hostname
	}

	client := notify.NewClient(url, token, logger)
	if err := client.Send(context.Background(), report); err != nil {
		logger.Warn("webhook notification failed", "error", err)
	}
}
