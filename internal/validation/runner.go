package validation

import (
	"context"
	"os/exec"
	"time"
)

// CommandRunner abstracts shell command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (output string, err error)
}

// ShellCommandRunner executes commands via sh -c.
type ShellCommandRunner struct {
	Env []string // Extra environment entries appended to the process env
}

// NewShellCommandRunner creates a CommandRunner that executes real shell commands.
func NewShellCommandRunner() *ShellCommandRunner {
	return &ShellCommandRunner{}
}

// Run executes command in dir and returns combined stdout/stderr.
func (r *ShellCommandRunner) Run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	// Children holding the output pipe must not outlive cancellation for long
	cmd.WaitDelay = 5 * time.Second

	output, err := cmd.CombinedOutput()
	return string(output), err
}
