// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Paths are the directories a build reads from and writes to. Relative paths are
// resolved against the directory of the config file.
type Paths struct {
	// TreeDir is the pre-populated source root filesystem.
	TreeDir string `yaml:"treeDir" json:"treeDir,omitempty"`
	// DestDir is the initrd working tree. It is recreated by every build.
	DestDir   string `yaml:"destDir" json:"destDir,omitempty"`
	TempDir   string `yaml:"tempDir" json:"tempDir,omitempty"`
	ConfigDir string `yaml:"configDir" json:"configDir,omitempty"`
	DataDir   string `yaml:"dataDir" json:"dataDir,omitempty"`
	OutputDir string `yaml:"outputDir" json:"outputDir,omitempty"`
}

func (p *Paths) IsValid() error {
	if p.TreeDir != "" && p.TreeDir == p.DestDir {
		return fmt.Errorf("'treeDir' and 'destDir' must be different directories (%s)", p.TreeDir)
	}

	if p.TreeDir != "" && p.DestDir != "" && (contains(p.TreeDir, p.DestDir) || contains(p.DestDir, p.TreeDir)) {
		return fmt.Errorf("'treeDir' (%s) and 'destDir' (%s) must not contain each other", p.TreeDir, p.DestDir)
	}

	if p.OutputDir != "" && p.DestDir != "" && (p.OutputDir == p.DestDir || contains(p.DestDir, p.OutputDir)) {
		return fmt.Errorf("'outputDir' (%s) must not be inside 'destDir' (%s)", p.OutputDir, p.DestDir)
	}

	return nil
}

// contains reports whether path is strictly below dir.
func contains(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, "../")
}
