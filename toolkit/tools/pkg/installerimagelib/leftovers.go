// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	ignore "github.com/sabhiram/go-gitignore"
)

// Entries of a kernel's module directory that an installer never needs.
var moduleDirLeftoverPatterns = []string{
	"/modules.*map",
	"/source",
	"/build",
}

// removeModuleDirLeftovers deletes the leftover entries at the top of a module directory.
func removeModuleDirLeftovers(modulesDir string) error {
	matcher := ignore.CompileIgnoreLines(moduleDirLeftoverPatterns...)

	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to read module directory (%s)", modulesDir), err)
	}

	for _, entry := range entries {
		if !matcher.MatchesPath(entry.Name()) {
			continue
		}

		path := filepath.Join(modulesDir, entry.Name())
		logger.Log.Debugf("Removing (%s)", path)

		err := os.RemoveAll(path)
		if err != nil {
			return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to remove (%s)", path), err)
		}
	}

	return nil
}
