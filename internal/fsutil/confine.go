// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil confines operator-supplied file names to a root directory.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a name resolves outside its root.
var ErrEscapesRoot = errors.New("path escapes root")

// ConfineRelPath joins root and rel and returns the symlink-resolved path,
// failing when the result is not underneath the resolved root. rel must be
// relative and free of backslashes. A missing target is resolved through
// its parent so callers can still report "not found".
func ConfineRelPath(root, rel string) (string, error) {
	if strings.Contains(rel, `\`) {
		return "", fmt.Errorf("path contains backslash: %s", rel)
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("target path must be relative: %s", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", err
	}

	full := filepath.Join(realRoot, clean)
	resolved, err := filepath.EvalSymlinks(full)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if _, lerr := os.Lstat(full); lerr == nil {
			// Dangling symlink.
			return "", fmt.Errorf("failed to resolve symlink: %w", err)
		}
		parent, perr := filepath.EvalSymlinks(filepath.Dir(full))
		if perr != nil {
			return "", fmt.Errorf("failed to resolve parent path: %w", perr)
		}
		resolved = filepath.Join(parent, filepath.Base(full))
	default:
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relToRoot, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w via symlinks: %s", ErrEscapesRoot, resolved)
	}
	return resolved, nil
}

// IsRegularFile fails unless path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}
