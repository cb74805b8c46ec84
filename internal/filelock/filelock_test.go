package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_LockUnlock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	lock := NewFileLock(lockPath)

	assert.Equal(t, lockPath, lock.Path())
	require.NoError(t, lock.Lock())
	require.NoError(t, lock.Unlock())
}

func TestFileLock_TryLockBusy(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	first := NewFileLock(lockPath)
	require.NoError(t, first.Lock())

	second := NewFileLock(lockPath)
	acquired, err := second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, first.Unlock())

	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, second.Unlock())
}

func TestProjectLock(t *testing.T) {
	root := t.TempDir()

	lock, err := ProjectLock(root)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, ".mender", LockFileName))

	_, err = ProjectLock(root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRepairInProgress))

	require.NoError(t, lock.Unlock())

	again, err := ProjectLock(root)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestAtomicWrite(t *testing.T) {
	tests := []struct {
		name     string
		existing *string
		data     string
	}{
		{name: "new file", data: "hello"},
		{name: "overwrite", existing: ptr("old content that is longer"), data: "new"},
		{name: "empty data", existing: ptr("x"), data: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "dir", "file.txt")
			if tt.existing != nil {
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
				require.NoError(t, os.WriteFile(path, []byte(*tt.existing), 0644))
			}

			require.NoError(t, AtomicWrite(path, []byte(tt.data)))

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.data, string(got))
			assertNoTempFiles(t, filepath.Dir(path))
		})
	}
}

func TestAtomicWrite_PreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	require.NoError(t, AtomicWrite(path, []byte("#!/bin/sh\necho hi\n")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestLockAndWrite_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.json")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := strings.Repeat(fmt.Sprintf("%d", i), 1024)
			assert.NoError(t, LockAndWrite(path, []byte(payload)))
		}(i)
	}
	wg.Wait()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1024)
	assert.Equal(t, strings.Repeat(string(got[0]), 1024), string(got), "content must come from a single writer")
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".mender-tmp-"), "leftover temp file %s", e.Name())
	}
}

func ptr(s string) *string { return &s }
