// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const longDescription = "Intel(R) PRO/1000 Network Driver for PCI-E Gigabit Ethernet Controllers of all generations"

func createDescriptorTestTree(t *testing.T) (*ModuleCatalog, string) {
	t.Helper()

	modulesDir := t.TempDir()
	for _, relPath := range []string{
		"kernel/drivers/scsi/sd_mod.ko",
		"kernel/drivers/scsi/scsi_mod.ko",
		"kernel/drivers/ata/ahci.ko",
		"kernel/drivers/net/e1000e.ko",
		"kernel/drivers/net/virtio_net.ko",
		"kernel/fs/ext4/ext4.ko",
	} {
		testutils.WriteFile(t, filepath.Join(modulesDir, relPath), "")
	}

	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.block"),
		"kernel/drivers/scsi/sd_mod.ko\nkernel/drivers/scsi/scsi_mod.ko\nahci.ko\nkernel/drivers/scsi/missing.ko\n")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.networking"),
		"kernel/drivers/net/virtio_net.ko\nkernel/drivers/net/e1000e.ko")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.alias"),
		"# Aliases extracted from modules themselves.\n"+
			"alias fs-ext4 ext4\n"+
			"alias pci:v00008086d*sv*sd*bc*sc*i* e1000e\n"+
			"alias virtio:d00000001v* virtio_net\n"+
			"alias net-virtio virtio_net\n")

	catalog, err := BuildModuleCatalog(modulesDir)
	require.NoError(t, err)
	return catalog, modulesDir
}

func TestLoadModuleDescriptorStore(t *testing.T) {
	catalog, _ := createDescriptorTestTree(t)
	reader := fakeModinfoReader{
		"sd_mod.ko":     "SCSI disk (sd) driver",
		"e1000e.ko":     longDescription,
		"virtio_net.ko": "",
		"ahci.ko":       "  AHCI SATA low-level driver\nsecond line",
	}

	store, err := LoadModuleDescriptorStore(catalog, reader)
	require.NoError(t, err)

	names, err := store.ResolveCategory("net")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1000e", "virtio_net"}, names)

	names, err = store.ResolveCategory("scsi")
	require.NoError(t, err)
	assert.Equal(t, []string{"ahci", "sd_mod"}, names)

	_, err = store.ResolveCategory("sound")
	assert.ErrorIs(t, err, ErrTypeConfig)

	descriptor, ok := store.Lookup("e1000e")
	require.True(t, ok)
	assert.Equal(t, "eth", descriptor.Category)
	assert.Equal(t, longDescription[:65], descriptor.Description)

	descriptor, ok = store.Lookup("virtio_net")
	require.True(t, ok)
	assert.Equal(t, "virtio_net driver", descriptor.Description)

	descriptor, ok = store.Lookup("ahci")
	require.True(t, ok)
	assert.Equal(t, "AHCI SATA low-level driver", descriptor.Description)

	_, ok = store.Lookup("scsi_mod")
	assert.False(t, ok)

	name, ok := store.ResolveAlias("fs-ext4")
	assert.True(t, ok)
	assert.Equal(t, "ext4", name)

	name, ok = store.ResolveAlias("net-virtio")
	assert.True(t, ok)
	assert.Equal(t, "virtio_net", name)

	_, ok = store.ResolveAlias("pci:v00008086d*sv*sd*bc*sc*i*")
	assert.False(t, ok)
}

func TestLoadModuleDescriptorStoreMissingFiles(t *testing.T) {
	modulesDir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(modulesDir, "kernel/drivers/net/e1000e.ko"), "")

	catalog, err := BuildModuleCatalog(modulesDir)
	require.NoError(t, err)

	store, err := LoadModuleDescriptorStore(catalog, fakeModinfoReader{})
	require.NoError(t, err)

	names, err := store.ResolveCategory("eth")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestModuleInfoSortedAndTruncated(t *testing.T) {
	catalog, _ := createDescriptorTestTree(t)
	reader := fakeModinfoReader{
		"e1000e.ko": longDescription,
		"sd_mod.ko": "SCSI disk (sd) driver",
	}

	store, err := LoadModuleDescriptorStore(catalog, reader)
	require.NoError(t, err)

	closure := NewModuleSet("virtio_net", "sd_mod", "e1000e", "ext4", "scsi_mod")
	moduleInfo := FormatModuleInfo(store.Descriptors(closure))

	expected := "Version 0\n" +
		"e1000e\n\teth\n\t\"" + longDescription[:65] + "\"\n" +
		"sd_mod\n\tscsi_hostadapter\n\t\"SCSI disk (sd) driver\"\n" +
		"virtio_net\n\teth\n\t\"virtio_net driver\"\n"
	assert.Equal(t, expected, moduleInfo)

	lines := strings.Split(strings.TrimSuffix(moduleInfo, "\n"), "\n")
	for i := 3; i < len(lines); i += 3 {
		description := strings.TrimSuffix(strings.TrimPrefix(lines[i], "\t\""), "\"")
		assert.LessOrEqual(t, utf8.RuneCountInString(description), 65)
	}
}

func TestFormatModuleInfoSortsUnsortedInput(t *testing.T) {
	moduleInfo := FormatModuleInfo([]ModuleDescriptor{
		{Name: "zz", Category: "eth", Description: strings.Repeat("x", 100)},
		{Name: "aa", Category: "scsi_hostadapter", Description: ""},
	})

	assert.Equal(t, "Version 0\n"+
		"aa\n\tscsi_hostadapter\n\t\"aa driver\"\n"+
		"zz\n\teth\n\t\""+strings.Repeat("x", 65)+"\"\n", moduleInfo)
}

func TestElfModinfoReader(t *testing.T) {
	dir := t.TempDir()
	modulePath := filepath.Join(dir, "e1000e.ko")
	testutils.WriteElfFile(t, modulePath, testutils.ElfSpec{
		Modinfo: "license=GPL v2\x00description=Intel(R) PRO/1000 Network Driver\x00author=Intel\x00",
	})

	description, err := ElfModinfoReader{}.Description(modulePath)
	require.NoError(t, err)
	assert.Equal(t, "Intel(R) PRO/1000 Network Driver", description)

	for _, compression := range []installerimageapi.ModuleCompressionType{
		installerimageapi.ModuleCompressionTypeGzip,
		installerimageapi.ModuleCompressionTypeXz,
		installerimageapi.ModuleCompressionTypeZstd,
	} {
		compressedDir := filepath.Join(dir, string(compression))
		compressedSource := filepath.Join(compressedDir, "e1000e.ko")
		testutils.WriteElfFile(t, compressedSource, testutils.ElfSpec{Modinfo: "description=Compressed\x00"})
		require.NoError(t, compressModuleFile(compressedSource, compression, ""))

		description, err = ElfModinfoReader{}.Description(compressedSource + moduleCompressionSuffix(compression))
		require.NoError(t, err, compression)
		assert.Equal(t, "Compressed", description, compression)
	}
}

func TestElfModinfoReaderNoModinfo(t *testing.T) {
	modulePath := filepath.Join(t.TempDir(), "empty.ko")
	testutils.WriteElfFile(t, modulePath, testutils.ElfSpec{})

	description, err := ElfModinfoReader{}.Description(modulePath)
	require.NoError(t, err)
	assert.Equal(t, "", description)
}

func TestElfModinfoReaderNotElf(t *testing.T) {
	modulePath := filepath.Join(t.TempDir(), "bogus.ko")
	testutils.WriteFile(t, modulePath, "this is not an ELF file at all")

	_, err := ElfModinfoReader{}.Description(modulePath)
	assert.ErrorContains(t, err, "failed to parse module")
}

func TestCompressModuleFileRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte("kernel module payload "), 1000)

	for _, compression := range []installerimageapi.ModuleCompressionType{
		installerimageapi.ModuleCompressionTypeGzip,
		installerimageapi.ModuleCompressionTypeXz,
		installerimageapi.ModuleCompressionTypeZstd,
	} {
		path := filepath.Join(t.TempDir(), "mod.ko")
		require.NoError(t, os.WriteFile(path, content, 0o644))
		stagingDir := t.TempDir()

		require.NoError(t, compressModuleFile(path, compression, stagingDir))

		_, err := os.Stat(path)
		assert.ErrorIs(t, err, os.ErrNotExist)

		info, err := os.Stat(path + moduleCompressionSuffix(compression))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

		staged, err := os.ReadDir(stagingDir)
		require.NoError(t, err)
		assert.Empty(t, staged)

		decompressed, err := readModuleFile(path + moduleCompressionSuffix(compression))
		require.NoError(t, err)
		assert.Equal(t, content, decompressed)

		compressionType, err := testutils.GetFileCompressionType(path + moduleCompressionSuffix(compression))
		require.NoError(t, err)
		assert.Equal(t, string(compression), compressionType)
	}

	path := filepath.Join(t.TempDir(), "mod.ko")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, compressModuleFile(path, installerimageapi.ModuleCompressionTypeNone, ""))
	assert.FileExists(t, path)
}

func TestCompressModuleFileStagingFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.ko")
	testutils.WriteFile(t, path, "module")

	// A regular file can't hold staged output.
	stagingDir := filepath.Join(dir, "staging")
	testutils.WriteFile(t, stagingDir, "")

	err := compressModuleFile(path, installerimageapi.ModuleCompressionTypeGzip, stagingDir)
	assert.ErrorContains(t, err, "failed to create staging file")
	assert.Equal(t, "module", testutils.ReadFile(t, path))
	assert.NoFileExists(t, path+".gz")
}
