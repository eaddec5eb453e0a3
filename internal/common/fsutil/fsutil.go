// Package fsutil holds small path helpers shared by the config loader, the
// model registry and the manager's state persistence.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// SizeMB returns the file size rounded down to MiB, at least 1. Unreadable
// files also report 1 so budget checks never see a free model.
func SizeMB(path string) int {
	fi, err := os.Stat(path)
	if err != nil {
		return 1
	}
	if mb := int(fi.Size() / (1024 * 1024)); mb > 0 {
		return mb
	}
	return 1
}

// SafeName maps an identifier to a single path element: separators and other
// characters outside [A-Za-z0-9._-] become '_'.
func SafeName(id string) string {
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
