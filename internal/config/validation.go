package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// canonicalizePath cleans a path and resolves symlinks. If the path
// does not exist yet, the deepest existing ancestor is resolved and the
// remaining components are appended, so the result names the real
// location the path would occupy.
func canonicalizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	resolved, err := filepath.EvalSymlinks(cleaned)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to resolve path %q: %w", cleaned, err)
	}

	// Walk up until an existing ancestor is found, then reattach the
	// missing suffix.
	var missing []string
	current := cleaned
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return cleaned, nil
		}
		missing = append([]string{filepath.Base(current)}, missing...)
		resolved, err = filepath.EvalSymlinks(parent)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve path %q: %w", parent, err)
		}
		current = parent
	}
}

// ValidateDirectoryExists checks that path resolves to an existing
// directory. The error names the canonical location so symlink-based
// misconfiguration is visible in diagnostics.
func ValidateDirectoryExists(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return fmt.Errorf("%s: directory %q not accessible: %w", field, canonical, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %q is not a directory", field, canonical)
	}
	return nil
}

// EnsureDirectoryWritable creates path (at its canonical location) if
// needed and verifies it is writable.
func EnsureDirectoryWritable(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if err := os.MkdirAll(canonical, 0750); err != nil {
		return fmt.Errorf("%s: failed to create directory %q: %w", field, canonical, err)
	}
	probe, err := os.CreateTemp(canonical, ".writable-*")
	if err != nil {
		return fmt.Errorf("%s: directory %q is not writable: %w", field, canonical, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}
