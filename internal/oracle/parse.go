package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/mender/internal/models"
)

var (
	validate = validator.New()
	markdown = goldmark.New()
)

// ParseProposal extracts a proposed patch from model output. It accepts a
// bare JSON object, a Claude CLI envelope (structured_output or result),
// or markdown holding a fenced json block or a fenced diff. The proposal
// must pass struct validation. All failures wrap ErrMalformedResponse.
func ParseProposal(raw []byte) (*models.ProposedPatch, error) {
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	content, err := unwrapEnvelope(content)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range jsonCandidates(content) {
		patch, err := decodeProposal(candidate)
		if err == nil {
			return patch, nil
		}
		lastErr = err
	}

	if patch := diffProposal(content); patch != nil {
		return patch, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no JSON object found")
	}
	return nil, fmt.Errorf("%w: %v (content: %s)", ErrMalformedResponse, lastErr, truncate(content, 200))
}

// unwrapEnvelope returns the payload of a CLI envelope, or content itself
// when it is not one.
func unwrapEnvelope(content string) (string, error) {
	var envelope struct {
		Type             string          `json:"type"`
		IsError          bool            `json:"is_error"`
		StructuredOutput json.RawMessage `json:"structured_output"`
		Result           string          `json:"result"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return content, nil
	}
	if envelope.IsError {
		return "", fmt.Errorf("%w: model reported an error: %s", ErrMalformedResponse, truncate(envelope.Result, 200))
	}
	if so := bytes.TrimSpace(envelope.StructuredOutput); len(so) > 0 && !bytes.Equal(so, []byte("null")) {
		return string(so), nil
	}
	if envelope.Type == "result" || envelope.Result != "" {
		return strings.TrimSpace(envelope.Result), nil
	}
	return content, nil
}

// jsonCandidates lists the strings that might hold the proposal, most
// specific first.
func jsonCandidates(content string) []string {
	var candidates []string
	if strings.HasPrefix(content, "{") {
		candidates = append(candidates, content)
	}
	for _, block := range fencedBlocks(content) {
		if block.lang == "json" || (block.lang == "" && strings.HasPrefix(strings.TrimSpace(block.body), "{")) {
			candidates = append(candidates, block.body)
		}
	}
	if extracted := ExtractJSON(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}
	return candidates
}

func decodeProposal(data string) (*models.ProposedPatch, error) {
	var patch models.ProposedPatch
	if err := json.Unmarshal([]byte(data), &patch); err != nil {
		return nil, err
	}
	patch.Approach = strings.TrimSpace(patch.Approach)
	if err := validate.Struct(&patch); err != nil {
		return nil, describeValidation(err)
	}
	return &patch, nil
}

// diffProposal builds a single-edit proposal from markdown that carries a
// fenced diff. The first paragraph becomes the approach.
func diffProposal(content string) *models.ProposedPatch {
	var diff string
	for _, block := range fencedBlocks(content) {
		if block.lang == "diff" || block.lang == "patch" {
			diff = block.body
			break
		}
	}
	if diff == "" {
		return nil
	}

	approach := firstParagraph(content)
	if approach == "" {
		approach = "apply proposed diff"
	}
	return &models.ProposedPatch{
		Approach: approach,
		Edits:    []models.Edit{{Kind: models.EditDiff, Diff: diff}},
	}
}

type fencedBlock struct {
	lang string
	body string
}

func fencedBlocks(content string) []fencedBlock {
	source := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var blocks []fencedBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fcb, ok := n.(*ast.FencedCodeBlock); ok {
			blocks = append(blocks, fencedBlock{
				lang: strings.ToLower(string(fcb.Language(source))),
				body: blockText(fcb, source),
			})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func firstParagraph(content string) string {
	source := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(source))

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if p, ok := n.(*ast.Paragraph); ok {
			return strings.Join(strings.Fields(blockText(p, source)), " ")
		}
	}
	return ""
}

func blockText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid proposal: %s", strings.Join(parts, ", "))
}

// ExtractJSON returns the substring from the first '{' to the last '}', or
// "" when there is none.
func ExtractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
