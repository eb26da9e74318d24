// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"path/filepath"
	"testing"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFirmwareRules = []FirmwareRule{
	{Module: "fw_driver", Pattern: "fwfile*"},
	{Module: "other_driver", Pattern: "other*"},
}

func TestCopyFirmware(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "lib", "firmware")

	testutils.WriteFile(t, filepath.Join(srcDir, "fwfile-a.bin"), "a")
	testutils.WriteFile(t, filepath.Join(srcDir, "fwfile-b.bin"), "b")
	testutils.WriteFile(t, filepath.Join(srcDir, "fwfiles", "c.bin"), "c")
	testutils.WriteFile(t, filepath.Join(srcDir, "other.bin"), "other")
	testutils.WriteFile(t, filepath.Join(srcDir, "unrelated.bin"), "unrelated")

	copied, err := CopyFirmware(NewModuleSet("fw_driver"), testFirmwareRules, srcDir, dstDir)
	require.NoError(t, err)
	assert.Equal(t, 3, copied)

	assert.Equal(t, "a", testutils.ReadFile(t, filepath.Join(dstDir, "fwfile-a.bin")))
	assert.Equal(t, "b", testutils.ReadFile(t, filepath.Join(dstDir, "fwfile-b.bin")))
	assert.Equal(t, "c", testutils.ReadFile(t, filepath.Join(dstDir, "fwfiles", "c.bin")))
	assert.NoFileExists(t, filepath.Join(dstDir, "other.bin"))
	assert.NoFileExists(t, filepath.Join(dstDir, "unrelated.bin"))
}

func TestCopyFirmwareModuleNotRetained(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "lib", "firmware")
	testutils.WriteFile(t, filepath.Join(srcDir, "fwfile-a.bin"), "a")

	copied, err := CopyFirmware(NewModuleSet("e1000e"), testFirmwareRules, srcDir, dstDir)
	require.NoError(t, err)
	assert.Equal(t, 0, copied)
	assert.NoDirExists(t, dstDir)
}

func TestCopyFirmwareNoMatches(t *testing.T) {
	copied, err := CopyFirmware(NewModuleSet("fw_driver"), testFirmwareRules, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, copied)
}

func TestCopyFirmwareInvalidPattern(t *testing.T) {
	rules := []FirmwareRule{{Module: "fw_driver", Pattern: "fw["}}

	_, err := CopyFirmware(NewModuleSet("fw_driver"), rules, t.TempDir(), t.TempDir())
	assert.ErrorIs(t, err, ErrTypeConfig)
}
