// Package helperproc implements a device.Driver that delegates the native
// device protocol to a helper subprocess.
//
// The helper is started once per connect attempt. It receives the target in
// the RADBRIDGE_DEVICE_MODE and RADBRIDGE_DEVICE_MAC environment variables,
// prints a "connected" line once its session is up, and then streams one JSON
// record per line on stdout. Requests are written to its stdin, one JSON object
// per line. Closing stdin asks the helper to exit.
package helperproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/logger"
)

// DefaultCloseTimeout is how long Close waits for a graceful helper exit before killing it.
const DefaultCloseTimeout = 3 * time.Second

// Option customizes a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithEnv appends extra KEY=VALUE entries to the helper's environment.
func WithEnv(env ...string) Option {
	return func(d *Driver) {
		d.env = append(d.env, env...)
	}
}

// WithCloseTimeout sets the graceful exit timeout of Close.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.closeTimeout = timeout
		}
	}
}

// Driver starts a helper subprocess per session.
type Driver struct {
	command      string
	args         []string
	env          []string
	closeTimeout time.Duration
	logger       logger.Logger
}

var _ device.Driver = (*Driver)(nil)

// New creates a Driver running command with args.
func New(command string, args []string, opts ...Option) *Driver {
	d := &Driver{
		command:      command,
		args:         args,
		closeTimeout: DefaultCloseTimeout,
		logger:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Connect starts the helper and waits for its "connected" line.
//
// When ctx is done first the helper is killed and ctx.Err() is returned.
func (d *Driver) Connect(ctx context.Context, target device.Target) (device.Session, error) {
	if d.command == "" {
		return nil, fmt.Errorf("helper command not configured")
	}

	cmd := exec.Command(d.command, d.args...) //nolint:gosec
	cmd.Env = append(os.Environ(), d.env...)
	cmd.Env = append(cmd.Env,
		"RADBRIDGE_DEVICE_MODE="+string(target.Mode),
		"RADBRIDGE_DEVICE_MAC="+target.MAC,
	)
	cmd.Stderr = &stderrWriter{logger: d.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("helper stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start helper %q: %w", d.command, err)
	}
	d.logger.Debug("helper started", "command", d.command, "pid", cmd.Process.Pid, "mode", target.Mode)

	sess := newSession(cmd, stdin, d.closeTimeout, d.logger.With("pid", cmd.Process.Pid))
	go sess.readLoop(stdout)

	select {
	case <-sess.connected:
		d.logger.Info("helper connected to device", "mode", target.Mode, "mac", target.MAC)
		return sess, nil

	case msg := <-sess.connectErr:
		sess.kill()
		sess.waitExit(d.closeTimeout)

		return nil, fmt.Errorf("helper: %s", msg)

	case <-sess.exited:
		return nil, fmt.Errorf("helper exited before connecting: %w", sess.exitError())

	case <-ctx.Done():
		sess.kill()
		sess.waitExit(d.closeTimeout)

		return nil, ctx.Err()
	}
}

type stderrWriter struct {
	logger logger.Logger
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("helper stderr", "line", line)
		}
	}

	return len(p), nil
}
