// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package initrdutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitrdImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inputDir := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(inputDir, "lib/modules/6.6.1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, ".buildstamp"), []byte("X\nP\n1\nU\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "lib/modules/6.6.1/e1000.ko.gz"), []byte("ko"), 0o600))
	require.NoError(t, os.Symlink("lib", filepath.Join(inputDir, "lib64")))

	imagePath := filepath.Join(dir, "out/initrd.img")
	err := CreateInitrdImageFromFolder(inputDir, imagePath)
	require.NoError(t, err)

	outputDir := filepath.Join(dir, "extracted")
	err = CreateFolderFromInitrdImage(imagePath, outputDir)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(outputDir, ".buildstamp"))
	require.NoError(t, err)
	assert.Equal(t, "X\nP\n1\nU\n", string(content))

	info, err := os.Stat(filepath.Join(outputDir, "lib/modules/6.6.1/e1000.ko.gz"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	target, err := os.Readlink(filepath.Join(outputDir, "lib64"))
	require.NoError(t, err)
	assert.Equal(t, "lib", target)
}

func TestCreateFolderFromInitrdImageMissingFile(t *testing.T) {
	err := CreateFolderFromInitrdImage(filepath.Join(t.TempDir(), "missing.img"), t.TempDir())
	assert.ErrorContains(t, err, "failed to open file")
}
