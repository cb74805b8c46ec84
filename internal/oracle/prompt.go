package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harrison/mender/internal/models"
)

// SystemPrompt is sent with every diagnosis request.
const SystemPrompt = "You are a senior engineer repairing a crashed program. " +
	"Your ONLY output must be one JSON object matching the provided schema. " +
	"No prose, no markdown outside the JSON, no explanations."

// ProposalSchema returns the JSON schema for a proposed patch.
func ProposalSchema() string {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"approach", "edits"},
		"properties": map[string]interface{}{
			"approach": map[string]interface{}{
				"type":        "string",
				"description": "One sentence naming the fix strategy. Must differ from penalized approaches.",
			},
			"rationale": map[string]interface{}{
				"type":        "string",
				"description": "Why this fix addresses the crash",
			},
			"edits": map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"items": map[string]interface{}{
					"type":     "object",
					"required": []string{"kind"},
					"properties": map[string]interface{}{
						"kind": map[string]interface{}{
							"type": "string",
							"enum": []string{string(models.EditReplace), string(models.EditWrite), string(models.EditDiff)},
						},
						"path":    map[string]interface{}{"type": "string", "description": "File path relative to the project root"},
						"search":  map[string]interface{}{"type": "string", "description": "replace: exact text that occurs once in the file"},
						"replace": map[string]interface{}{"type": "string", "description": "replace: replacement text"},
						"content": map[string]interface{}{"type": "string", "description": "write: full new file content"},
						"diff":    map[string]interface{}{"type": "string", "description": "diff: unified diff with ---/+++ headers"},
					},
				},
			},
		},
	}

	data, _ := json.Marshal(schema)
	return string(data)
}

// Render produces the prompt text for a diagnosis request. Identical
// requests render identically.
func Render(req models.DiagnosisRequest) string {
	var sb strings.Builder

	sb.WriteString("# Crash repair\n\n")
	sb.WriteString(fmt.Sprintf("Project root: %s\n", req.ProjectRoot))
	sb.WriteString(fmt.Sprintf("Crash: %s (signature %s)\n", req.CrashID, req.Signature))
	if req.Command != "" {
		sb.WriteString(fmt.Sprintf("Command: %s\n", req.Command))
	}
	sb.WriteString(fmt.Sprintf("Error: %s\n\n", req.Error))

	sb.WriteString("## Traceback\n\n")
	writeFenced(&sb, req.Traceback)

	sb.WriteString(fmt.Sprintf("## Attempt %d of %d\n\n", req.Iteration, req.MaxIterations))

	if len(req.History) > 0 {
		sb.WriteString("## Previous attempts this run\n\n")
		for _, h := range req.History {
			sb.WriteString(fmt.Sprintf("### Attempt %d: %s\n\n", h.Index, h.Outcome))
			if h.Approach != "" {
				sb.WriteString(fmt.Sprintf("Approach: %s\n", h.Approach))
			}
			sb.WriteString(fmt.Sprintf("Failed at: %s\n", h.Stage))
			if h.Penalized {
				sb.WriteString("PENALIZED: this repeats an approach that already failed. Do not propose it again.\n")
			}
			if h.Diagnostic != "" {
				sb.WriteString("\n")
				writeFenced(&sb, h.Diagnostic)
			} else {
				sb.WriteString("\n")
			}
		}
	}

	if len(req.PriorKnowledge) > 0 {
		sb.WriteString("## Earlier runs on this signature\n\n")
		for _, p := range req.PriorKnowledge {
			sb.WriteString(fmt.Sprintf("- %q: %d succeeded, %d failed\n", p.Approach, p.SuccessCount, p.FailureCount))
		}
		sb.WriteString("\nPrefer approaches that succeeded before. Avoid ones that only failed.\n\n")
	}

	sb.WriteString("## Response\n\n")
	sb.WriteString("Return one JSON object with `approach`, optional `rationale` and a non-empty `edits` list.\n")
	sb.WriteString("Edit kinds:\n")
	sb.WriteString("- `replace`: `path`, `search` (must occur exactly once), `replace`\n")
	sb.WriteString("- `write`: `path`, `content` (full file)\n")
	sb.WriteString("- `diff`: `diff` (unified diff, paths relative to the project root)\n")

	return sb.String()
}

// writeFenced writes body in a code fence longer than any backtick run
// inside it.
func writeFenced(sb *strings.Builder, body string) {
	fence := strings.Repeat("`", max(3, longestBacktickRun(body)+1))
	sb.WriteString(fence)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimRight(body, "\n"))
	sb.WriteString("\n")
	sb.WriteString(fence)
	sb.WriteString("\n\n")
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return longest
}
