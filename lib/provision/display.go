// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benchrig/benchrig/lib/manifest"
)

const (
	// defaultDisplayServer is the virtual framebuffer X server used
	// when the manifest does not name one.
	defaultDisplayServer = "Xvfb"

	// defaultDisplayNumber is the conventional headless display.
	defaultDisplayNumber = 99

	// defaultDisplayWait is the grace period after starting the
	// server before declaring it up. The server offers no readiness
	// signal, so startup synchronization is a fixed wait followed by
	// an is-it-still-running check.
	defaultDisplayWait = 3 * time.Second

	// displayStopGrace is how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	displayStopGrace = 5 * time.Second
)

// defaultDisplayArgs is the screen configuration used when the
// manifest specifies none: single screen, desktop-ish geometry, true
// color. Plot-rendering test suites care about depth more than size.
var defaultDisplayArgs = []string{"-screen", "0", "1280x1024x24"}

// displayServer supervises a background virtual framebuffer process
// for the lifetime of a run.
type displayServer struct {
	cmd    *exec.Cmd
	server string
	number int
	logger *slog.Logger

	// done is closed by the wait goroutine when the process exits;
	// exitErr holds the wait result and is only readable after done.
	done    chan struct{}
	exitErr error
}

// startDisplay launches the display server in its own process group,
// waits the configured grace period, and confirms the process is still
// alive. Returns the supervisor and the DISPLAY value (":N.0") to
// export to later steps and the test command.
func startDisplay(ctx context.Context, spec manifest.DisplaySpec, env Environment, logger *slog.Logger, stdout, stderr io.Writer) (*displayServer, string, error) {
	server := spec.Server
	if server == "" {
		server = defaultDisplayServer
	}
	number := defaultDisplayNumber
	if spec.Number != nil {
		number = *spec.Number
	}
	args := spec.Args
	if len(args) == 0 {
		args = defaultDisplayArgs
	}
	wait := defaultDisplayWait
	if spec.Wait != "" {
		parsed, err := time.ParseDuration(spec.Wait)
		if err != nil {
			// Validate should have caught this, but fail loud if not.
			return nil, "", fmt.Errorf("invalid display wait %q: %w", spec.Wait, err)
		}
		wait = parsed
	}

	argv := append([]string{fmt.Sprintf(":%d", number)}, args...)
	cmd := exec.Command(server, argv...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = env.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("starting %s: %w", server, err)
	}

	d := &displayServer{
		cmd:    cmd,
		server: server,
		number: number,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		d.exitErr = cmd.Wait()
		close(d.done)
	}()

	logger.Info("display server started", "server", server, "display", number, "pid", cmd.Process.Pid, "wait", wait.String())

	// Fixed grace period, not a readiness poll: the server is assumed
	// up once it has survived the wait.
	select {
	case <-d.done:
		return nil, "", fmt.Errorf("%s :%d exited during startup: %w", server, number, exitReason(d.exitErr))
	case <-ctx.Done():
		d.Stop()
		return nil, "", ctx.Err()
	case <-time.After(wait):
	}

	return d, fmt.Sprintf(":%d.0", number), nil
}

// Stop terminates the display server's process group: SIGTERM first,
// SIGKILL after a grace period if it has not exited. Safe to call
// after the process has already exited.
func (d *displayServer) Stop() {
	select {
	case <-d.done:
		return
	default:
	}

	processGroupID := -d.cmd.Process.Pid
	if err := unix.Kill(processGroupID, unix.SIGTERM); err != nil {
		_ = unix.Kill(processGroupID, unix.SIGKILL)
	}

	select {
	case <-d.done:
	case <-time.After(displayStopGrace):
		_ = unix.Kill(processGroupID, unix.SIGKILL)
		<-d.done
	}

	d.logger.Info("display server stopped", "server", d.server, "display", d.number)
}

// exitReason normalizes a nil wait error (clean exit, still wrong
// during startup) into something printable.
func exitReason(err error) error {
	if err == nil {
		return fmt.Errorf("exit code 0")
	}
	return err
}
