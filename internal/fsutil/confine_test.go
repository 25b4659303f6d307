// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPath(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "videos")
	require.NoError(t, os.MkdirAll(root, 0o755))
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	inside := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))
	outside := filepath.Join(base, "secret.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape.mp4")))
	require.NoError(t, os.Symlink(inside, filepath.Join(root, "alias.mp4")))
	require.NoError(t, os.Symlink(filepath.Join(base, "gone"), filepath.Join(root, "dangling.mp4")))

	got, err := ConfineRelPath(root, "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "clip.mp4"), got)

	got, err = ConfineRelPath(root, "alias.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "clip.mp4"), got)

	got, err = ConfineRelPath(root, "missing.mp4")
	require.NoError(t, err, "missing files resolve so callers can report not found")
	assert.Equal(t, filepath.Join(realRoot, "missing.mp4"), got)

	_, err = ConfineRelPath(root, "escape.mp4")
	assert.ErrorIs(t, err, ErrEscapesRoot)

	_, err = ConfineRelPath(root, "../secret.mp4")
	assert.ErrorIs(t, err, ErrEscapesRoot)

	_, err = ConfineRelPath(root, "dangling.mp4")
	assert.Error(t, err)

	_, err = ConfineRelPath(root, `a\b.mp4`)
	assert.Error(t, err)

	_, err = ConfineRelPath(root, "/etc/passwd")
	assert.Error(t, err)
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	assert.NoError(t, IsRegularFile(f))
	assert.Error(t, IsRegularFile(dir))
	assert.Error(t, IsRegularFile(filepath.Join(dir, "missing")))
}
