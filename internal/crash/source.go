// Package crash reads and writes crash records and derives crash signatures.
//
// A record is a directory <root>/<dir>/crash_YYYYMMDD_HHMMSS holding either
// crash.json or a plain traceback.txt.
package crash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harrison/mender/internal/filelock"
	"github.com/harrison/mender/internal/models"
)

const (
	// DefaultDir is the crash directory relative to the project root.
	DefaultDir = "crashes"

	// RecordFile is the structured record inside a crash directory.
	RecordFile = "crash.json"

	// TracebackFile is the plain-text fallback record.
	TracebackFile = "traceback.txt"

	idPrefix   = "crash_"
	idLayout   = "20060102_150405"
	maxIDTries = 120
)

// ErrNotFound is returned when no crash record matches.
var ErrNotFound = errors.New("crash record not found")

var idRe = regexp.MustCompile(`^crash_\d{8}_\d{6}$`)

// Record is the on-disk shape of crash.json.
type Record struct {
	Error     string    `json:"error"`
	Traceback string    `json:"traceback"`
	Command   string    `json:"command,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Source reads crash records from a project's crash directory.
type Source struct {
	Dir string // Crash directory; relative paths resolve against the project root
}

// NewSource creates a Source for dir. An empty dir means DefaultDir.
func NewSource(dir string) *Source {
	if dir == "" {
		dir = DefaultDir
	}
	return &Source{Dir: dir}
}

// Path returns the crash directory for projectRoot.
func (s *Source) Path(projectRoot string) string {
	if filepath.IsAbs(s.Dir) {
		return s.Dir
	}
	return filepath.Join(projectRoot, s.Dir)
}

// IsID reports whether name is a well-formed crash ID.
func IsID(name string) bool {
	return idRe.MatchString(name)
}

// List returns the crash IDs of projectRoot, oldest first.
func (s *Source) List(ctx context.Context, projectRoot string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Path(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read crash directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && IsID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	// The timestamp layout sorts lexically
	sort.Strings(ids)
	return ids, nil
}

// Latest loads the newest crash record of projectRoot.
func (s *Source) Latest(ctx context.Context, projectRoot string) (*models.CrashContext, error) {
	ids, err := s.List(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no crashes under %s: %w", s.Path(projectRoot), ErrNotFound)
	}
	return s.Get(ctx, projectRoot, ids[len(ids)-1])
}

// Get loads the crash record id of projectRoot.
func (s *Source) Get(ctx context.Context, projectRoot, id string) (*models.CrashContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !IsID(id) {
		return nil, fmt.Errorf("invalid crash id %q: %w", id, ErrNotFound)
	}

	dir := filepath.Join(s.Path(projectRoot), id)
	rec, err := readRecord(dir)
	if err != nil {
		return nil, fmt.Errorf("crash %s: %w", id, err)
	}

	rec.Traceback = strings.TrimRight(rec.Traceback, "\n")
	if rec.Error == "" {
		rec.Error = lastLine(rec.Traceback)
	}
	if rec.Error == "" && rec.Traceback == "" {
		return nil, fmt.Errorf("crash %s: record is empty", id)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp, _ = time.ParseInLocation(idLayout, strings.TrimPrefix(id, idPrefix), time.Local)
	}

	return &models.CrashContext{
		ID:          id,
		Timestamp:   rec.Timestamp,
		Error:       rec.Error,
		Traceback:   rec.Traceback,
		Command:     rec.Command,
		ProjectRoot: projectRoot,
		Signature:   Signature(rec.Error, rec.Traceback),
	}, nil
}

func readRecord(dir string) (Record, error) {
	var rec Record

	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if err == nil {
		if err := json.Unmarshal(data, &rec); err != nil {
			return rec, fmt.Errorf("parse %s: %w", RecordFile, err)
		}
		return rec, nil
	}
	if !os.IsNotExist(err) {
		return rec, fmt.Errorf("read %s: %w", RecordFile, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, TracebackFile))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, fmt.Errorf("no %s or %s: %w", RecordFile, TracebackFile, ErrNotFound)
		}
		return rec, fmt.Errorf("read %s: %w", TracebackFile, err)
	}
	rec.Traceback = string(data)
	return rec, nil
}

// Save writes rec as a new crash record under projectRoot and returns its
// ID. IDs derive from rec.Timestamp; a taken second moves to the next free
// one.
func (s *Source) Save(projectRoot string, rec Record) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	base := s.Path(projectRoot)
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}

	var id string
	for i := 0; i < maxIDTries; i++ {
		candidate := idPrefix + rec.Timestamp.Add(time.Duration(i)*time.Second).Format(idLayout)
		err := os.Mkdir(filepath.Join(base, candidate), 0755)
		if err == nil {
			id = candidate
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create crash record: %w", err)
		}
	}
	if id == "" {
		return "", fmt.Errorf("no free crash id near %s", rec.Timestamp.Format(time.RFC3339))
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode crash record: %w", err)
	}
	if err := filelock.LockAndWrite(filepath.Join(base, id, RecordFile), data); err != nil {
		return "", err
	}
	return id, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
