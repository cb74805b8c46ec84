package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides where mender keeps its shared state.
const HomeEnv = "MENDER_HOME"

// Home returns the mender state directory for a project.
// Priority order:
//  1. MENDER_HOME environment variable (if set)
//  2. <projectRoot>/.mender
func Home(projectRoot string) string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	return filepath.Join(projectRoot, DirName)
}

// KnowledgeDBPath returns the absolute knowledge database path.
// An absolute knowledge.db_path is used as is. The default path moves under
// MENDER_HOME when that is set, so that several projects can share one
// store. Any other relative path is resolved against the project root.
func (c *Config) KnowledgeDBPath(projectRoot string) string {
	p := c.Knowledge.DBPath
	if filepath.IsAbs(p) {
		return p
	}
	if p == DefaultKnowledgeDBPath && os.Getenv(HomeEnv) != "" {
		return filepath.Join(Home(projectRoot), "knowledge", "crystals.db")
	}
	return filepath.Join(projectRoot, p)
}

// LogDirPath returns the run log directory for a project.
func (c *Config) LogDirPath(projectRoot string) string {
	return resolve(projectRoot, c.LogDir)
}

// CrashesDirPath returns the crash record directory for a project.
func (c *Config) CrashesDirPath(projectRoot string) string {
	return resolve(projectRoot, c.CrashesDir)
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
