// Package validation runs a project's test commands after a patch is
// applied and turns their output into diagnostic text for the next
// diagnosis request.
package validation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/harrison/mender/internal/models"
)

// ErrCommandFailed indicates a validation command exited with non-zero status.
var ErrCommandFailed = errors.New("validation command failed")

// MaxOutputLen caps the output kept per command. The tail is kept.
const MaxOutputLen = 8000

// CommandResult is the outcome of one validation command.
type CommandResult struct {
	Command  string
	Output   string
	Err      error
	ExitCode int
	Passed   bool
	Duration time.Duration
}

// RunCommands runs commands in dir in order and stops at the first failure,
// which is returned wrapped in ErrCommandFailed.
func RunCommands(ctx context.Context, runner CommandRunner, dir string, commands []string) ([]CommandResult, error) {
	results := make([]CommandResult, 0, len(commands))

	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		output, err := runner.Run(ctx, dir, command)
		result := CommandResult{
			Command:  command,
			Output:   output,
			Err:      err,
			Passed:   err == nil,
			Duration: time.Since(start),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if err != nil {
			result.ExitCode = -1
		}
		results = append(results, result)

		if err != nil {
			return results, fmt.Errorf("%w: %q after %v: %v",
				ErrCommandFailed, command, result.Duration.Round(time.Millisecond), err)
		}
	}

	return results, nil
}

// FormatResults renders results as plain text, one section per command.
func FormatResults(results []CommandResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = fmt.Sprintf("FAIL (exit %d)", r.ExitCode)
		}
		sb.WriteString(fmt.Sprintf("$ %s  [%s, %v]\n", r.Command, status, r.Duration.Round(time.Millisecond)))

		if out := strings.TrimSpace(r.Output); out != "" {
			sb.WriteString(tail(out, MaxOutputLen))
			sb.WriteString("\n")
		}
		if r.Err != nil && r.ExitCode < 0 {
			sb.WriteString(fmt.Sprintf("error: %v\n", r.Err))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	if i := strings.IndexByte(s[cut:], '\n'); i >= 0 && i < 200 {
		cut += i + 1
	}
	return "...\n" + s[cut:]
}

// Validator runs the configured commands in the project root.
type Validator struct {
	runner   CommandRunner
	commands []string
}

// New creates a Validator. A nil runner uses the shell.
func New(commands []string, runner CommandRunner) *Validator {
	if runner == nil {
		runner = NewShellCommandRunner()
	}
	return &Validator{
		runner:   runner,
		commands: append([]string(nil), commands...),
	}
}

// Commands returns the configured commands.
func (v *Validator) Commands() []string {
	return append([]string(nil), v.commands...)
}

// Validate runs every command in projectRoot. A failing command is a
// failed validation with a nil error. Cancellation and deadline expiry are
// returned as the context error along with whatever output was collected.
func (v *Validator) Validate(ctx context.Context, projectRoot string) (models.ValidationResult, error) {
	if len(v.commands) == 0 {
		return models.ValidationResult{}, errors.New("no validation commands configured")
	}

	results, err := RunCommands(ctx, v.runner, projectRoot, v.commands)
	text := FormatResults(results)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.ValidationResult{Passed: false, DiagnosticText: text}, ctxErr
	}
	if err != nil {
		if errors.Is(err, ErrCommandFailed) {
			return models.ValidationResult{Passed: false, DiagnosticText: text}, nil
		}
		return models.ValidationResult{Passed: false, DiagnosticText: text}, err
	}
	return models.ValidationResult{Passed: true, DiagnosticText: text}, nil
}
