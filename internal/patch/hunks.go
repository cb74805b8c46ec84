package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// maxDrift bounds how far from its stated position a hunk may be found.
const maxDrift = 200

// fileText is file content split into lines.
type fileText struct {
	lines       []string
	trailingEOL bool
}

func splitText(content string) fileText {
	if content == "" {
		return fileText{trailingEOL: true}
	}
	trailing := strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	return fileText{lines: strings.Split(content, "\n"), trailingEOL: trailing}
}

func (f fileText) String() string {
	if len(f.lines) == 0 {
		return ""
	}
	s := strings.Join(f.lines, "\n")
	if f.trailingEOL {
		s += "\n"
	}
	return s
}

// hunkLines splits a hunk body into the lines it expects and the lines it
// produces. noEOL reports a "\ No newline at end of file" marker after the
// last produced line.
func hunkLines(h *diff.Hunk) (old, new []string, noEOL bool) {
	body := strings.TrimSuffix(string(h.Body), "\n")
	if body == "" {
		return nil, nil, false
	}

	var last byte
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			// Some editors strip the space of blank context lines
			old = append(old, "")
			new = append(new, "")
			last = ' '
			continue
		}
		switch line[0] {
		case ' ':
			old = append(old, line[1:])
			new = append(new, line[1:])
		case '-':
			old = append(old, line[1:])
		case '+':
			new = append(new, line[1:])
		case '\\':
			if last == '+' || last == ' ' {
				noEOL = true
			}
			continue
		default:
			old = append(old, line)
			new = append(new, line)
		}
		last = line[0]
	}
	return old, new, noEOL
}

// applyHunks applies hunks in order to content. Each hunk's context and
// removed lines must match the file, either at the stated line or within
// maxDrift lines of it.
func applyHunks(content string, hunks []*diff.Hunk) (string, error) {
	text := splitText(content)
	lines := text.lines
	offset := 0
	searchFrom := 0

	for i, h := range hunks {
		old, repl, noEOL := hunkLines(h)

		want := int(h.OrigStartLine) - 1 + offset
		if len(old) == 0 {
			// Pure insertion: OrigStartLine is the line after which to insert
			want = int(h.OrigStartLine) + offset
		}
		pos, ok := locate(lines, old, want, searchFrom)
		if !ok {
			return "", fmt.Errorf("hunk %d (@@ -%d,%d) does not match the file", i+1, h.OrigStartLine, h.OrigLines)
		}

		next := make([]string, 0, len(lines)-len(old)+len(repl))
		next = append(next, lines[:pos]...)
		next = append(next, repl...)
		next = append(next, lines[pos+len(old):]...)
		lines = next

		offset += len(repl) - len(old)
		searchFrom = pos + len(repl)
		if len(repl) > 0 && searchFrom == len(lines) {
			// The hunk rewrote the end of the file
			text.trailingEOL = !noEOL
		}
	}

	text.lines = lines
	return text.String(), nil
}

// locate finds old in lines nearest to want, never before floor.
func locate(lines, old []string, want, floor int) (int, bool) {
	if want < floor {
		want = floor
	}
	if want > len(lines) {
		want = len(lines)
	}
	if len(old) == 0 {
		return want, true
	}
	for d := 0; d <= maxDrift; d++ {
		if p := want - d; p >= floor && matchAt(lines, old, p) {
			return p, true
		}
		if p := want + d; d > 0 && matchAt(lines, old, p) {
			return p, true
		}
	}
	return 0, false
}

func matchAt(lines, old []string, pos int) bool {
	if pos < 0 || pos+len(old) > len(lines) {
		return false
	}
	for i, l := range old {
		if strings.TrimRight(lines[pos+i], "\r") != strings.TrimRight(l, "\r") {
			return false
		}
	}
	return true
}
