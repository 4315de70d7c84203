// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// runShell executes a command via sh -c with stdout and stderr wired
// to the given writers. The command sees exactly the provided
// Environment plus the step-level extra map — never the benchrig
// process's ambient environment. Returns the exit code and any error
// (signals, context cancellation, etc.).
//
// The shell is resolved via PATH lookup, not hardcoded to /bin/sh,
// which is more correct on hosts where /bin/sh is absent or is a
// different shell than the environment expects.
//
// The command runs in its own process group so that context
// cancellation (timeout) kills the shell and all its children. Without
// Setpgid, only the shell receives the signal — child processes
// survive and hold open the inherited stdout/stderr file descriptors,
// blocking the engine from proceeding until the children finish.
//
// When gracePeriod is zero, SIGKILL is sent immediately on timeout.
// When gracePeriod is positive, SIGTERM is sent first to give the
// process a chance to flush buffers and clean up; if it has not exited
// after gracePeriod, SIGKILL follows.
func runShell(ctx context.Context, command string, dir string, env Environment, extra map[string]string, gracePeriod time.Duration, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env.SetAll(extra).Environ()

	// Negative PID below means "the whole process group".
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if gracePeriod > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := unix.Kill(processGroupID, unix.SIGTERM); err != nil {
				// SIGTERM failed (process group already gone), escalate.
				return unix.Kill(processGroupID, unix.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				// Best-effort: ESRCH from a dead process group is harmless.
				_ = unix.Kill(processGroupID, unix.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}

	// Non-exit errors: context cancellation (timeout), signal, etc.
	return -1, err
}

// runArgv executes an argv-form command (no shell) with the same
// process-group and environment handling as runShell. Used for package
// manager invocations where the argument list is assembled from
// manifest data and must not pass through shell word splitting.
func runArgv(ctx context.Context, argv []string, env Environment, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}
	return -1, err
}
