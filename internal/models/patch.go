package models

import "strings"

// EditKind identifies how an Edit mutates a file
type EditKind string

// Edit kinds understood by the patch applier
const (
	EditReplace EditKind = "replace" // Replace exactly one occurrence of Search with Replace
	EditWrite   EditKind = "write"   // Write Content as the full file body
	EditDiff    EditKind = "diff"    // Apply a unified diff
)

// Edit is one concrete change proposed by the diagnosis oracle
type Edit struct {
	Path    string   `json:"path,omitempty" validate:"required_unless=Kind diff"`  // File path relative to project root
	Kind    EditKind `json:"kind" validate:"required,oneof=replace write diff"`    // Edit kind
	Search  string   `json:"search,omitempty" validate:"required_if=Kind replace"` // Text to find (replace)
	Replace string   `json:"replace,omitempty"`                                    // Replacement text (replace)
	Content string   `json:"content,omitempty"`                                    // Full file content (write)
	Diff    string   `json:"diff,omitempty" validate:"required_if=Kind diff"`      // Unified diff (diff)
}

// ProposedPatch is the oracle's answer to a diagnosis request: a structured
// approach description plus the concrete edits implementing it.
type ProposedPatch struct {
	Approach  string `json:"approach" validate:"required"`         // Short description of the fix strategy
	Rationale string `json:"rationale,omitempty"`                  // Why the oracle believes it works
	Edits     []Edit `json:"edits" validate:"required,min=1,dive"` // Concrete edits
}

// Files returns the distinct edit paths in first-seen order
func (p *ProposedPatch) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, e := range p.Edits {
		if e.Path == "" || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		files = append(files, e.Path)
	}
	return files
}

// NormalizeApproach canonicalizes an approach description so that repeated
// strategies compare equal regardless of case and whitespace.
func NormalizeApproach(approach string) string {
	return strings.Join(strings.Fields(strings.ToLower(approach)), " ")
}

// ApplyResult is what a patch applier reports after applying a patch
type ApplyResult struct {
	Applied bool     // Whether every edit was applied
	Details string   // Human-readable details (failure reason or summary)
	Files   []string // Files that were written
}

// ValidationResult is what a validator reports after running the test suite
type ValidationResult struct {
	Passed         bool   // Whether validation passed
	DiagnosticText string // Test output / failure diagnostics
}
