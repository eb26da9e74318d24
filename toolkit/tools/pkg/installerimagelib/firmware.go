// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

// FirmwareRule pairs a module with the firmware files it loads, as a glob relative to the
// firmware directory.
type FirmwareRule struct {
	Module  string
	Pattern string
}

var DefaultFirmwareRules = []FirmwareRule{
	{Module: "ipw2100", Pattern: "ipw2100*"},
	{Module: "ipw2200", Pattern: "ipw2200*"},
	{Module: "iwl3945", Pattern: "iwlwifi-3945*"},
	{Module: "iwl4965", Pattern: "iwlwifi-4965*"},
	{Module: "atmel", Pattern: "atmel_*.bin"},
	{Module: "zd1211rw", Pattern: "zd1211"},
	{Module: "qla2xxx", Pattern: "ql*"},
}

// CopyFirmware copies the firmware of every module in closure. It returns the number of
// copied files and directories.
func CopyFirmware(closure ModuleSet, rules []FirmwareRule, srcDir string, dstDir string) (int, error) {
	copied := 0
	for _, rule := range rules {
		if !closure.Contains(rule.Module) {
			continue
		}

		logger.Log.Infof("Copying %s firmware", rule.Module)

		matches, err := filepath.Glob(filepath.Join(srcDir, rule.Pattern))
		if err != nil {
			return copied, NewBuildErrorWithCause(ErrTypeConfig,
				fmt.Sprintf("invalid firmware pattern (%s) of module (%s)", rule.Pattern, rule.Module), err)
		}

		if len(matches) == 0 {
			logger.Log.Warnf("No firmware matching (%s) found for module (%s)", rule.Pattern, rule.Module)
			continue
		}

		for _, match := range matches {
			err := copyFirmwareEntry(match, filepath.Join(dstDir, filepath.Base(match)))
			if err != nil {
				return copied, NewBuildErrorWithCause(ErrTypeFilesystem,
					fmt.Sprintf("failed to copy firmware (%s)", match), err)
			}
			copied++
		}
	}
	return copied, nil
}

func copyFirmwareEntry(src string, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return file.NewDirCopyBuilder(src, dst).Run()
	}

	return file.NewFileCopyBuilder(src, dst).Run()
}
