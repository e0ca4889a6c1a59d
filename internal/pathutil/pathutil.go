// Package pathutil canonicalizes filesystem paths so that worktree
// locations recorded at different times compare equal.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading "~/" (or a bare "~") with the user's home
// directory. Other paths are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// Normalize makes path absolute and clean without touching the filesystem.
// It expands a leading "~/".
func Normalize(path string) string {
	if expanded, err := ExpandHome(path); err == nil {
		path = expanded
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Canonical returns the absolute path with symlinks resolved. When the path
// does not exist yet, or resolution fails, the normalized absolute path is
// returned instead.
func Canonical(path string) string {
	abs := Normalize(path)
	if _, err := os.Lstat(abs); err != nil {
		return abs
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// Same reports whether two paths refer to the same canonical location.
func Same(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
