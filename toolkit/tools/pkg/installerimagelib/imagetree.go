// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ModuleTreeOptions describe where and how the module subset of a kernel is materialized.
type ModuleTreeOptions struct {
	TreeDir            string
	DestDir            string
	KernelVersion      string
	// TempDir holds compressed modules until they are complete. Empty means the system default.
	TempDir            string
	Compression        installerimageapi.ModuleCompressionType
	ExternalToolPolicy installerimageapi.ExternalToolPolicy
	FirmwareRules      []FirmwareRule
}

// ModuleTreeResult counts what MaterializeModules did.
type ModuleTreeResult struct {
	RemovedModules   int
	RetainedModules  int
	FirmwareCopied   int
	DescribedModules int
}

// MaterializeModules copies the module directory of a kernel into the destination tree and
// reduces it to closure. Every step is applied directly to the destination tree. A failure
// leaves the tree as far as it got.
func MaterializeModules(ctx context.Context, closure ModuleSet, store *ModuleDescriptorStore, indexer ModuleIndexer,
	options ModuleTreeOptions,
) (ModuleTreeResult, error) {
	_, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "materialize_modules")
	defer span.End()

	result := ModuleTreeResult{}

	srcModulesDir := filepath.Join(options.TreeDir, "lib", "modules", options.KernelVersion)
	dstModulesRoot := filepath.Join(options.DestDir, "lib", "modules")
	dstModulesDir := filepath.Join(dstModulesRoot, options.KernelVersion)

	exists, err := file.DirExists(srcModulesDir)
	if err != nil {
		return result, NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to stat (%s)", srcModulesDir), err)
	}
	if !exists {
		return result, NewBuildError(ErrTypeConfig, fmt.Sprintf("module directory (%s) does not exist", srcModulesDir))
	}

	err = file.NewDirCopyBuilder(srcModulesDir, dstModulesDir).Run()
	if err != nil {
		return result, NewBuildErrorWithCause(ErrTypeFilesystem,
			fmt.Sprintf("failed to copy module directory (%s)", srcModulesDir), err)
	}

	result.RemovedModules, result.RetainedModules, err = pruneModules(dstModulesDir, closure)
	if err != nil {
		return result, err
	}

	result.FirmwareCopied, err = CopyFirmware(closure, options.FirmwareRules,
		filepath.Join(options.TreeDir, "lib", "firmware"), filepath.Join(options.DestDir, "lib", "firmware"))
	if err != nil {
		return result, err
	}

	descriptors := store.Descriptors(closure)
	result.DescribedModules = len(descriptors)
	err = WriteModuleInfo(filepath.Join(dstModulesRoot, moduleInfoFileName), descriptors)
	if err != nil {
		return result, err
	}

	err = compressModules(dstModulesDir, options.Compression, options.TempDir)
	if err != nil {
		return result, err
	}

	systemMap := filepath.Join(options.TreeDir, "boot", "System.map-"+options.KernelVersion)
	exists, err = file.PathExists(systemMap)
	if err != nil {
		return result, NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to stat (%s)", systemMap), err)
	}
	if !exists {
		logger.Log.Debugf("No System.map found at (%s)", systemMap)
		systemMap = ""
	}

	err = indexer.Index(ctx, options.DestDir, options.KernelVersion, systemMap)
	err = applyExternalToolPolicy(options.ExternalToolPolicy,
		fmt.Sprintf("failed to regenerate module dependency index of (%s)", options.DestDir), err)
	if err != nil {
		return result, err
	}

	err = removeModuleDirLeftovers(dstModulesDir)
	if err != nil {
		return result, err
	}

	span.SetAttributes(
		attribute.Int("modules_retained", result.RetainedModules),
		attribute.Int("modules_removed", result.RemovedModules),
		attribute.Int("firmware_copied", result.FirmwareCopied),
	)
	return result, nil
}

// pruneModules deletes every module file whose base name is not in closure, at any depth.
func pruneModules(modulesDir string, closure ModuleSet) (removed int, retained int, err error) {
	err = filepath.WalkDir(modulesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name, ok := moduleBaseName(d.Name())
		if !ok {
			return nil
		}

		if closure.Contains(name) {
			retained++
			return nil
		}

		logger.Log.Infof("Removing %s module", name)
		err = os.Remove(path)
		if err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, retained, NewBuildErrorWithCause(ErrTypeFilesystem,
			fmt.Sprintf("failed to prune modules of (%s)", modulesDir), err)
	}

	logger.Log.Infof("Kept %d modules, removed %d", retained, removed)
	return removed, retained, nil
}

// compressModules compresses every uncompressed module file. Modules that already are
// compressed are left alone.
func compressModules(modulesDir string, compression installerimageapi.ModuleCompressionType, stagingDir string,
) error {
	if moduleCompressionSuffix(compression) == "" {
		return nil
	}

	if stagingDir != "" {
		err := os.MkdirAll(stagingDir, 0o755)
		if err != nil {
			return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to create staging directory (%s)", stagingDir), err)
		}
	}

	err := filepath.WalkDir(modulesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".ko") {
			return nil
		}

		return compressModuleFile(path, compression, stagingDir)
	})
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to compress modules of (%s)", modulesDir), err)
	}

	return nil
}
