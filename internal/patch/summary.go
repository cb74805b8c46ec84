package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// lineCounts returns how many lines were added and removed between before
// and after.
func lineCounts(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// summarize describes the planned changes, one file per clause:
// "app.py (+2 -1), notes.txt (new, +4), old.py (deleted)".
func summarize(changes []*change) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		switch {
		case c.remove:
			parts = append(parts, fmt.Sprintf("%s (deleted)", c.rel))
		case !c.existed:
			parts = append(parts, fmt.Sprintf("%s (new, +%d)", c.rel, countLines(c.after)))
		default:
			added, removed := lineCounts(c.before, c.after)
			parts = append(parts, fmt.Sprintf("%s (+%d -%d)", c.rel, added, removed))
		}
	}
	return strings.Join(parts, ", ")
}
