package device

import (
	"context"
	"os/exec"
	"path/filepath"

	"github.com/arloliu/radbridge/logger"
)

// RecoveryHook is a best-effort, idempotent cleanup action invoked after a
// failed connect and before a reconnect. Errors are reported but never acted on.
type RecoveryHook interface {
	Recover(ctx context.Context) error
}

// RecoveryHookFunc adapts a function to the RecoveryHook interface.
type RecoveryHookFunc func(ctx context.Context) error

func (f RecoveryHookFunc) Recover(ctx context.Context) error {
	return f(ctx)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) Recover(context.Context) error { return nil }

type commandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// ProcessKillHook kills leftover helper processes, e.g. a wedged bluepy-helper,
// by running "pkill -f <pattern>" and then "killall <name>" for each pattern.
type ProcessKillHook struct {
	patterns []string
	logger   logger.Logger
	run      commandRunner
}

var _ RecoveryHook = (*ProcessKillHook)(nil)

// NewProcessKillHook returns a hook that kills processes matching patterns.
func NewProcessKillHook(patterns []string, l logger.Logger) *ProcessKillHook {
	if l == nil {
		l = logger.GetLogger()
	}

	return &ProcessKillHook{
		patterns: patterns,
		logger:   l,
		run:      runCommand,
	}
}

// Recover always returns nil; a non-zero exit just means nothing matched.
func (h *ProcessKillHook) Recover(ctx context.Context) error {
	for _, pattern := range h.patterns {
		if pattern == "" {
			continue
		}

		if err := h.run(ctx, "pkill", "-f", pattern); err == nil {
			h.logger.Warn("killed helper process", "tool", "pkill", "pattern", pattern)
		}

		name := filepath.Base(pattern)
		if err := h.run(ctx, "killall", name); err == nil {
			h.logger.Warn("killed helper process", "tool", "killall", "name", name)
		}
	}

	return nil
}
