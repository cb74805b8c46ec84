// Package patch applies oracle-proposed edits to a project tree.
//
// All edits of a patch are planned in memory first, so a patch with any
// edit that does not apply leaves the tree untouched. Writes are atomic per
// file. The applier remembers the original content of the files it last
// changed under each root so Revert can restore them.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/harrison/mender/internal/filelock"
	"github.com/harrison/mender/internal/models"
)

// RejectedError explains why a patch does not apply to the tree. It is
// reported as an unapplied ApplyResult, not as an Apply error.
type RejectedError struct {
	Edit   int // 1-based edit index
	Path   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("edit %d (%s): %s", e.Edit, e.Path, e.Reason)
	}
	return fmt.Sprintf("edit %d: %s", e.Edit, e.Reason)
}

func reject(edit int, path, format string, args ...any) *RejectedError {
	return &RejectedError{Edit: edit, Path: path, Reason: fmt.Sprintf(format, args...)}
}

// change is the planned new state of one file.
type change struct {
	rel     string
	abs     string
	before  string
	existed bool
	mode    fs.FileMode
	after   string
	remove  bool
}

// Applier applies ProposedPatches. It is safe for concurrent use.
type Applier struct {
	mu      sync.Mutex
	backups map[string][]*change // Last applied changes per project root
}

// New creates an Applier.
func New() *Applier {
	return &Applier{backups: make(map[string][]*change)}
}

// Apply applies every edit of p under projectRoot. A patch that does not fit
// the tree yields Applied=false with the reason in Details and a nil error;
// errors are reserved for I/O failures and cancellation.
func (a *Applier) Apply(ctx context.Context, p models.ProposedPatch, projectRoot string) (models.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ApplyResult{}, err
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return models.ApplyResult{}, fmt.Errorf("resolve project root: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	changes, err := plan(root, p.Edits)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return models.ApplyResult{Applied: false, Details: rejected.Error()}, nil
		}
		return models.ApplyResult{}, err
	}
	if len(changes) == 0 {
		return models.ApplyResult{Applied: false, Details: "patch contains no edits"}, nil
	}

	if err := ctx.Err(); err != nil {
		return models.ApplyResult{}, err
	}

	for i, c := range changes {
		if err := writeChange(c); err != nil {
			errs := []error{fmt.Errorf("write %s: %w", c.rel, err)}
			// Put back what this call already changed
			for j := i - 1; j >= 0; j-- {
				if rerr := restoreChange(changes[j]); rerr != nil {
					errs = append(errs, fmt.Errorf("restore %s: %w", changes[j].rel, rerr))
				}
			}
			return models.ApplyResult{}, errors.Join(errs...)
		}
	}

	a.backups[root] = changes

	files := make([]string, 0, len(changes))
	for _, c := range changes {
		files = append(files, c.rel)
	}
	return models.ApplyResult{
		Applied: true,
		Details: summarize(changes),
		Files:   files,
	}, nil
}

// Revert restores the files changed by the last successful Apply under
// projectRoot. Earlier applies are not tracked. Reverting with nothing to
// revert is a no-op.
func (a *Applier) Revert(ctx context.Context, projectRoot string) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	changes := a.backups[root]
	var errs []error
	for i := len(changes) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := restore(changes[i]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", changes[i].rel, err))
		}
	}
	delete(a.backups, root)
	return errors.Join(errs...)
}

// File mutation steps of Apply, replaced in tests.
var (
	writeChange   = write
	restoreChange = restore
)

func write(c *change) error {
	if c.remove {
		return os.Remove(c.abs)
	}
	return filelock.AtomicWriteMode(c.abs, []byte(c.after), c.mode)
}

func restore(c *change) error {
	if !c.existed {
		if err := os.Remove(c.abs); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return filelock.AtomicWriteMode(c.abs, []byte(c.before), c.mode)
}

// plan computes the final content of every touched file without writing.
func plan(root string, edits []models.Edit) ([]*change, error) {
	var order []*change
	byPath := make(map[string]*change)

	load := func(n int, rel string) (*change, error) {
		abs, err := resolve(root, rel)
		if err != nil {
			return nil, reject(n, rel, "%v", err)
		}
		if c, ok := byPath[abs]; ok {
			return c, nil
		}

		c := &change{abs: abs, mode: 0644}
		c.rel, _ = filepath.Rel(root, abs)
		c.rel = filepath.ToSlash(c.rel)

		info, err := os.Stat(abs)
		switch {
		case err == nil && info.IsDir():
			return nil, reject(n, rel, "path is a directory")
		case err == nil:
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", rel, err)
			}
			c.before, c.after, c.existed, c.mode = string(data), string(data), true, info.Mode().Perm()
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}

		byPath[abs] = c
		order = append(order, c)
		return c, nil
	}

	for i, e := range edits {
		n := i + 1
		switch e.Kind {
		case models.EditReplace:
			c, err := load(n, e.Path)
			if err != nil {
				return nil, err
			}
			if err := replace(c, n, e); err != nil {
				return nil, err
			}
		case models.EditWrite:
			c, err := load(n, e.Path)
			if err != nil {
				return nil, err
			}
			c.after, c.remove = e.Content, false
		case models.EditDiff:
			if err := applyDiff(load, n, e); err != nil {
				return nil, err
			}
		default:
			return nil, reject(n, e.Path, "unknown edit kind %q", e.Kind)
		}
	}

	// Drop files whose content did not change
	kept := order[:0]
	for _, c := range order {
		if c.remove || !c.existed || c.after != c.before {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

type loader func(n int, rel string) (*change, error)

func replace(c *change, n int, e models.Edit) error {
	if c.remove || (!c.existed && c.after == "") {
		return reject(n, e.Path, "file does not exist")
	}
	if e.Search == "" {
		return reject(n, e.Path, "search text is empty")
	}
	switch count := strings.Count(c.after, e.Search); count {
	case 0:
		return reject(n, e.Path, "search text not found")
	case 1:
		c.after = strings.Replace(c.after, e.Search, e.Replace, 1)
		return nil
	default:
		return reject(n, e.Path, "search text matches %d times; it must match exactly once", count)
	}
}

func applyDiff(load loader, n int, e models.Edit) error {
	var fileDiffs []*diff.FileDiff
	if hasFileHeaders(e.Diff) {
		parsed, err := diff.ParseMultiFileDiff([]byte(e.Diff))
		if err != nil {
			return reject(n, e.Path, "parse diff: %v", err)
		}
		fileDiffs = parsed
	} else {
		// Bare hunks apply to the edit path
		hunks, err := diff.ParseHunks([]byte(e.Diff))
		if err != nil {
			return reject(n, e.Path, "parse diff: %v", err)
		}
		if e.Path == "" {
			return reject(n, "", "diff has no file headers and the edit has no path")
		}
		fileDiffs = []*diff.FileDiff{{OrigName: e.Path, NewName: e.Path, Hunks: hunks}}
	}
	if len(fileDiffs) == 0 {
		return reject(n, e.Path, "diff contains no file changes")
	}

	for _, fd := range fileDiffs {
		orig, next := diffPath(fd.OrigName), diffPath(fd.NewName)
		target := next
		if next == devNull || next == "" {
			target = orig
		}
		if target == "" || target == devNull {
			target = e.Path
		}
		if orig != devNull && next != devNull && orig != "" && next != "" && orig != next {
			return reject(n, target, "renames are not supported (%s -> %s)", orig, next)
		}

		c, err := load(n, target)
		if err != nil {
			return err
		}

		switch {
		case next == devNull:
			if !c.existed || c.remove {
				return reject(n, target, "cannot delete a file that does not exist")
			}
			c.after, c.remove = "", true
			continue
		case orig == devNull:
			if (c.existed && !c.remove) || c.after != "" {
				return reject(n, target, "diff creates a file that already exists")
			}
		}
		if len(fd.Hunks) == 0 {
			return reject(n, target, "diff contains no hunks")
		}

		out, err := applyHunks(c.after, fd.Hunks)
		if err != nil {
			return reject(n, target, "%v", err)
		}
		c.after, c.remove = out, false
	}
	return nil
}

// hasFileHeaders reports whether text has a "--- " line directly followed
// by a "+++ " line.
func hasFileHeaders(text string) bool {
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if strings.HasPrefix(lines[i], "--- ") && strings.HasPrefix(lines[i+1], "+++ ") {
			return true
		}
	}
	return false
}
