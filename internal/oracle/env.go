package oracle

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var (
	cleanTmpOnce sync.Once
	cleanTmpDir  string
)

// CleanTmpDir returns a dedicated temp directory for Claude CLI
// invocations, creating it on first use. Editor socket files in the shared
// TMPDIR crash the CLI when --settings is passed.
func CleanTmpDir() string {
	cleanTmpOnce.Do(func() {
		cleanTmpDir = filepath.Join(os.TempDir(), "mender-claude")
		_ = os.MkdirAll(cleanTmpDir, 0755)
	})
	return cleanTmpDir
}

// SetCleanEnv gives cmd the current environment with TMPDIR pointing at
// CleanTmpDir.
func SetCleanEnv(cmd *exec.Cmd) {
	env := os.Environ()
	tmp := "TMPDIR=" + CleanTmpDir()

	found := false
	for i, kv := range env {
		if strings.HasPrefix(kv, "TMPDIR=") {
			env[i] = tmp
			found = true
			break
		}
	}
	if !found {
		env = append(env, tmp)
	}
	cmd.Env = env
}
