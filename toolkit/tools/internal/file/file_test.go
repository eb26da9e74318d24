// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func TestFileCopyKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "a/b/dst")

	require.NoError(t, os.WriteFile(src, []byte("data"), 0o755))
	require.NoError(t, os.Chmod(src, 0o755))

	err := Copy(src, dst)
	require.NoError(t, err)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestFileCopyNoDereference(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libfoo.so.1.2"), []byte("elf"), 0o644))
	require.NoError(t, os.Symlink("libfoo.so.1.2", filepath.Join(dir, "libfoo.so.1")))

	dst := filepath.Join(dir, "out/libfoo.so.1")
	err := NewFileCopyBuilder(filepath.Join(dir, "libfoo.so.1"), dst).SetNoDereference().Run()
	require.NoError(t, err)

	target, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, "libfoo.so.1.2", target)

	// Copying again replaces the existing link.
	err = NewFileCopyBuilder(filepath.Join(dir, "libfoo.so.1"), dst).SetNoDereference().Run()
	assert.NoError(t, err)
}

func TestFileCopyRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	err := Copy(dir, filepath.Join(dir, "x"))
	assert.ErrorContains(t, err, "is not a file")
}

func TestDirCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "kernel/drivers/net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "kernel/drivers/net/e1000.ko"), []byte("ko"), 0o644))
	require.NoError(t, os.Symlink("/usr/src/kernels/x", filepath.Join(src, "build")))

	dst := filepath.Join(dir, "dst")
	err := NewDirCopyBuilder(src, dst).Run()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dst, "kernel/drivers/net/e1000.ko"))
	target, err := os.Readlink(filepath.Join(dst, "build"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/src/kernels/x", target)
}

func TestDirCopyFailExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "f"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "f"), []byte("old"), 0o644))

	err := NewDirCopyBuilder(src, dst).SetUpdateMode(FileCopyUpdateModeFailExisting).Run()
	assert.ErrorContains(t, err, "already exists")

	err = NewDirCopyBuilder(src, dst).SetUpdateMode(FileCopyUpdateModeSkipExisting).Run()
	assert.NoError(t, err)
	content, _ := os.ReadFile(filepath.Join(dst, "f"))
	assert.Equal(t, "old", string(content))
}

func TestReadWriteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub/lines")

	err := WriteLines([]string{"a", "b"}, path)
	require.NoError(t, err)

	lines, err := ReadLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	err := Move(src, filepath.Join(dir, "nested/dst"))
	require.NoError(t, err)

	exists, err := PathExists(src)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.FileExists(t, filepath.Join(dir, "nested/dst"))
}
