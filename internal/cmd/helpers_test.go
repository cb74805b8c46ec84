package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harrison/mender/internal/config"
	"github.com/harrison/mender/internal/crash"
	"github.com/harrison/mender/internal/models"
	"github.com/harrison/mender/internal/oracle"
	"github.com/harrison/mender/internal/repair"
)

const testTraceback = `Traceback (most recent call last):
  File "app.py", line 3, in <module>
    print(1 / 0)
ZeroDivisionError: division by zero`

// scriptedOracle returns a write edit for each call, cycling through files.
// Every call writes new content so no patch is a no-op.
type scriptedOracle struct {
	mu       sync.Mutex
	files    []string
	requests []models.DiagnosisRequest
}

func (o *scriptedOracle) Diagnose(ctx context.Context, req models.DiagnosisRequest) (*models.ProposedPatch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	file := o.files[(len(o.requests)-1)%len(o.files)]
	return &models.ProposedPatch{
		Approach: "create " + file,
		Edits:    []models.Edit{{Kind: models.EditWrite, Path: file, Content: fmt.Sprintf("attempt %d\n", len(o.requests))}},
	}, nil
}

func (o *scriptedOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

// useOracle swaps the oracle constructor for the duration of the test.
func useOracle(t *testing.T, o repair.Oracle) {
	t.Helper()
	prev := newOracle
	newOracle = func(oracle.Config) (repair.Oracle, error) { return o, nil }
	t.Cleanup(func() { newOracle = prev })
}

// setupProject creates a project whose validation passes once fixed.txt
// exists.
func setupProject(t *testing.T) string {
	t.Helper()
	t.Setenv(config.HomeEnv, "")

	root := t.TempDir()
	dir := filepath.Join(root, config.DirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	cfg := `max_iterations: 3
log_level: info
validation:
  commands:
    - test -f fixed.txt
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0644))
	return root
}

// saveCrash records a crash under root and returns its ID.
func saveCrash(t *testing.T, root string) string {
	t.Helper()
	id, err := crash.NewSource("").Save(root, crash.Record{
		Traceback: testTraceback,
		Command:   "python app.py",
		Timestamp: time.Date(2026, 2, 17, 5, 23, 59, 0, time.Local),
	})
	require.NoError(t, err)
	return id
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// testContext stands in for t.Context (Go 1.24+): the returned context is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
