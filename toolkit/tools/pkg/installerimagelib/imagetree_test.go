// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/testutils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKernelVersion = "6.6.47.1-1.azl3"

type indexerCall struct {
	rootDir       string
	kernelVersion string
	systemMap     string
}

type fakeIndexer struct {
	calls []indexerCall
	err   error
}

func (f *fakeIndexer) Index(ctx context.Context, rootDir string, kernelVersion string, systemMap string) error {
	f.calls = append(f.calls, indexerCall{rootDir: rootDir, kernelVersion: kernelVersion, systemMap: systemMap})
	return f.err
}

// createModuleTree lays out a kernel module directory with modules at several depths.
func createModuleTree(t *testing.T, treeDir string) string {
	t.Helper()

	modulesDir := filepath.Join(treeDir, "lib", "modules", testKernelVersion)
	testutils.WriteFile(t, filepath.Join(modulesDir, "kernel/drivers/scsi/sd_mod.ko"), "sd_mod")
	testutils.WriteFile(t, filepath.Join(modulesDir, "kernel/drivers/scsi/scsi_mod.ko"), "scsi_mod")
	testutils.WriteFile(t, filepath.Join(modulesDir, "kernel/drivers/net/ethernet/intel/e1000e/e1000e.ko"), "e1000e")
	testutils.WriteFile(t, filepath.Join(modulesDir, "kernel/drivers/net/wireless/fw_driver.ko.xz"), "fw_driver")
	testutils.WriteFile(t, filepath.Join(modulesDir, "kernel/sound/core/snd.ko"), "snd")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.dep"), "kernel/drivers/scsi/sd_mod.ko: kernel/drivers/scsi/scsi_mod.ko\n")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.block"), "kernel/drivers/scsi/sd_mod.ko\n")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.networking"),
		"kernel/drivers/net/ethernet/intel/e1000e/e1000e.ko\n")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.pcimap"), "")
	testutils.WriteFile(t, filepath.Join(modulesDir, "modules.usbmap"), "")
	require.NoError(t, os.Symlink("/usr/src/kernels/"+testKernelVersion, filepath.Join(modulesDir, "build")))
	require.NoError(t, os.Symlink("build", filepath.Join(modulesDir, "source")))

	testutils.WriteFile(t, filepath.Join(treeDir, "lib", "firmware", "fwfile-a.bin"), "firmware")
	return modulesDir
}

func loadTestStore(t *testing.T, modulesDir string) *ModuleDescriptorStore {
	t.Helper()

	catalog, err := BuildModuleCatalog(modulesDir)
	require.NoError(t, err)

	store, err := LoadModuleDescriptorStore(catalog, fakeModinfoReader{"sd_mod.ko": "SCSI disk (sd) driver"})
	require.NoError(t, err)
	return store
}

func TestMaterializeModules(t *testing.T) {
	treeDir := t.TempDir()
	destDir := t.TempDir()
	modulesDir := createModuleTree(t, treeDir)
	testutils.WriteFile(t, filepath.Join(treeDir, "boot", "System.map-"+testKernelVersion), "")

	store := loadTestStore(t, modulesDir)
	indexer := &fakeIndexer{}
	stagingDir := filepath.Join(t.TempDir(), "staging")

	logMessagesHook.ConsumeMessages()
	result, err := MaterializeModules(context.Background(), NewModuleSet("sd_mod", "scsi_mod", "e1000e", "fw_driver"),
		store, indexer, ModuleTreeOptions{
			TreeDir:            treeDir,
			DestDir:            destDir,
			KernelVersion:      testKernelVersion,
			TempDir:            stagingDir,
			Compression:        installerimageapi.ModuleCompressionTypeGzip,
			ExternalToolPolicy: installerimageapi.ExternalToolPolicyStrict,
			FirmwareRules:      testFirmwareRules,
		})
	require.NoError(t, err)

	assert.Equal(t, ModuleTreeResult{
		RemovedModules:   1,
		RetainedModules:  4,
		FirmwareCopied:   1,
		DescribedModules: 2,
	}, result)

	assert.Contains(t, logMessagesHook.ConsumeMessagesAtLevel(logrus.InfoLevel), "Removing snd module")

	staged, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, staged)

	dstModulesDir := filepath.Join(destDir, "lib", "modules", testKernelVersion)

	// Retained at every depth, compressed unless already compressed.
	retained := []struct {
		relPath string
		content string
	}{
		{relPath: "kernel/drivers/scsi/sd_mod.ko.gz", content: "sd_mod"},
		{relPath: "kernel/drivers/scsi/scsi_mod.ko.gz", content: "scsi_mod"},
		{relPath: "kernel/drivers/net/ethernet/intel/e1000e/e1000e.ko.gz", content: "e1000e"},
	}
	for _, module := range retained {
		data, err := readModuleFile(filepath.Join(dstModulesDir, module.relPath))
		require.NoError(t, err, module.relPath)
		assert.Equal(t, module.content, string(data), module.relPath)
	}
	assert.Equal(t, "fw_driver", testutils.ReadFile(t, filepath.Join(dstModulesDir, "kernel/drivers/net/wireless/fw_driver.ko.xz")))
	assert.NoFileExists(t, filepath.Join(dstModulesDir, "kernel/drivers/scsi/sd_mod.ko"))
	assert.NoFileExists(t, filepath.Join(dstModulesDir, "kernel/sound/core/snd.ko"))

	// The source tree is untouched.
	assert.FileExists(t, filepath.Join(modulesDir, "kernel/sound/core/snd.ko"))
	assert.FileExists(t, filepath.Join(modulesDir, "kernel/drivers/scsi/sd_mod.ko"))

	assert.Equal(t, "firmware", testutils.ReadFile(t, filepath.Join(destDir, "lib", "firmware", "fwfile-a.bin")))

	assert.Equal(t, "Version 0\n"+
		"e1000e\n\teth\n\t\"e1000e driver\"\n"+
		"sd_mod\n\tscsi_hostadapter\n\t\"SCSI disk (sd) driver\"\n",
		testutils.ReadFile(t, filepath.Join(destDir, "lib", "modules", "module-info")))

	for _, leftover := range []string{"modules.pcimap", "modules.usbmap", "build", "source"} {
		_, err := os.Lstat(filepath.Join(dstModulesDir, leftover))
		assert.ErrorIs(t, err, os.ErrNotExist, leftover)
	}
	assert.FileExists(t, filepath.Join(dstModulesDir, "modules.dep"))
	assert.FileExists(t, filepath.Join(dstModulesDir, "modules.block"))

	assert.Equal(t, []indexerCall{{
		rootDir:       destDir,
		kernelVersion: testKernelVersion,
		systemMap:     filepath.Join(treeDir, "boot", "System.map-"+testKernelVersion),
	}}, indexer.calls)
}

func TestMaterializeModulesNoCompressionNoSystemMap(t *testing.T) {
	treeDir := t.TempDir()
	destDir := t.TempDir()
	modulesDir := createModuleTree(t, treeDir)

	indexer := &fakeIndexer{}
	_, err := MaterializeModules(context.Background(), NewModuleSet("sd_mod"), loadTestStore(t, modulesDir), indexer,
		ModuleTreeOptions{
			TreeDir:       treeDir,
			DestDir:       destDir,
			KernelVersion: testKernelVersion,
			Compression:   installerimageapi.ModuleCompressionTypeNone,
		})
	require.NoError(t, err)

	dstModulesDir := filepath.Join(destDir, "lib", "modules", testKernelVersion)
	assert.Equal(t, "sd_mod", testutils.ReadFile(t, filepath.Join(dstModulesDir, "kernel/drivers/scsi/sd_mod.ko")))
	assert.NoFileExists(t, filepath.Join(dstModulesDir, "kernel/drivers/scsi/scsi_mod.ko"))
	assert.NoDirExists(t, filepath.Join(destDir, "lib", "firmware"))

	require.Len(t, indexer.calls, 1)
	assert.Equal(t, "", indexer.calls[0].systemMap)
}

func TestMaterializeModulesIndexerFailure(t *testing.T) {
	options := ModuleTreeOptions{
		KernelVersion: testKernelVersion,
		Compression:   installerimageapi.ModuleCompressionTypeNone,
	}

	options.TreeDir = t.TempDir()
	options.DestDir = t.TempDir()
	options.ExternalToolPolicy = installerimageapi.ExternalToolPolicyStrict
	modulesDir := createModuleTree(t, options.TreeDir)

	indexer := &fakeIndexer{err: errors.New("depmod: FATAL")}
	_, err := MaterializeModules(context.Background(), NewModuleSet("sd_mod"), loadTestStore(t, modulesDir), indexer,
		options)
	assert.ErrorIs(t, err, ErrTypeExternalTool)
	assert.ErrorContains(t, err, "depmod: FATAL")

	options.TreeDir = t.TempDir()
	options.DestDir = t.TempDir()
	options.ExternalToolPolicy = installerimageapi.ExternalToolPolicyLenient
	modulesDir = createModuleTree(t, options.TreeDir)

	_, err = MaterializeModules(context.Background(), NewModuleSet("sd_mod"), loadTestStore(t, modulesDir), indexer,
		options)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(options.DestDir, "lib", "modules", testKernelVersion, "modules.pcimap"))
}

func TestMaterializeModulesMissingKernel(t *testing.T) {
	_, err := MaterializeModules(context.Background(), NewModuleSet(), &ModuleDescriptorStore{}, &fakeIndexer{},
		ModuleTreeOptions{
			TreeDir:       t.TempDir(),
			DestDir:       t.TempDir(),
			KernelVersion: testKernelVersion,
		})
	assert.ErrorIs(t, err, ErrTypeConfig)
}
