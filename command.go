package pushover

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// StartArg is passed to the external command once per run, before login.
const StartArg = "start"

// CommandRunner invokes external processes.
type CommandRunner interface {
	// Run executes name with args, waits for it to exit and returns its
	// stdout and stderr merged.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

// Run executes a command and returns its combined output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", name, err)
	}
	return out, nil
}

// command binds a runner to the configured command path.
type command struct {
	runner  CommandRunner
	path    string
	timeout time.Duration
}

// run invokes the command with args, bounded by the optional timeout.
func (c command) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out, err := c.runner.Run(ctx, c.path, args...)
	if err != nil {
		return out, newFailure(ErrCommandInvocation, "command", fmt.Sprintf("%s %v", c.path, args), err)
	}
	return out, nil
}
