package patch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolve maps a patch-relative path to an absolute path inside root.
// Paths that are absolute or climb out of root are rejected.
func resolve(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %s is absolute", rel)
	}

	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the project root", rel)
	}

	abs := filepath.Join(root, clean)
	check, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(check, "..") {
		return "", fmt.Errorf("path %s escapes the project root", rel)
	}
	return abs, nil
}

// diffPath strips the a/ and b/ prefixes git puts on diff file names.
func diffPath(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name = name[:i]
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

const devNull = "/dev/null"
