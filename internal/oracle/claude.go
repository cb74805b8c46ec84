package oracle

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/harrison/mender/internal/models"
)

// ClaudeOracle diagnoses crashes by invoking the Claude CLI in print mode
// with a JSON schema. Safe for concurrent use.
type ClaudeOracle struct {
	// Path is the claude binary. Defaults to "claude" found in PATH.
	Path string

	// Model is passed as --model when set.
	Model string

	// SystemPrompt defaults to SystemPrompt when empty.
	SystemPrompt string
}

// NewClaudeOracle creates a ClaudeOracle.
func NewClaudeOracle(path, model string) *ClaudeOracle {
	if path == "" {
		path = "claude"
	}
	return &ClaudeOracle{
		Path:         path,
		Model:        model,
		SystemPrompt: SystemPrompt,
	}
}

// Args returns the CLI arguments for a prompt.
func (o *ClaudeOracle) Args(prompt string) []string {
	systemPrompt := o.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SystemPrompt
	}

	args := []string{"--system-prompt", systemPrompt, "-p", prompt}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	args = append(args,
		"--json-schema", ProposalSchema(),
		"--output-format", "json",
		// Disable hooks for automation
		"--settings", `{"disableAllHooks": true}`,
	)
	return args
}

// Diagnose renders req, runs the CLI in the project root and parses its
// output into a proposal.
func (o *ClaudeOracle) Diagnose(ctx context.Context, req models.DiagnosisRequest) (*models.ProposedPatch, error) {
	path := o.Path
	if path == "" {
		path = "claude"
	}

	cmd := exec.CommandContext(ctx, path, o.Args(Render(req))...)
	cmd.Dir = req.ProjectRoot
	SetCleanEnv(cmd)

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("claude invocation interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(string(exitErr.Stderr))
			if detail == "" {
				detail = strings.TrimSpace(string(output))
			}
			return nil, fmt.Errorf("claude invocation failed: %w (output: %s)", err, truncate(detail, 500))
		}
		return nil, fmt.Errorf("claude invocation failed: %w", err)
	}

	return ParseProposal(output)
}
