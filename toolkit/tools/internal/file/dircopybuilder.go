// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package file

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

type FileCopyUpdateMode int

const (
	// Overwrite any existing file.
	FileCopyUpdateModeOverwriteAll FileCopyUpdateMode = iota
	// Fail if there is a conflicting existing file.
	FileCopyUpdateModeFailExisting
	// Skip (leave alone) any conflicting existing files.
	FileCopyUpdateModeSkipExisting
)

// DirCopyBuilder recursively copies a directory. Symlinks are copied as symlinks.
type DirCopyBuilder struct {
	// Source directory
	Src string
	// Destination directory
	Dst string
	// How existing files should be handled.
	UpdateMode FileCopyUpdateMode
}

func NewDirCopyBuilder(src string, dst string) DirCopyBuilder {
	return DirCopyBuilder{
		Src: src,
		Dst: dst,
	}
}

func (b DirCopyBuilder) SetUpdateMode(updateMode FileCopyUpdateMode) DirCopyBuilder {
	b.UpdateMode = updateMode
	return b
}

func (b DirCopyBuilder) Run() error {
	logger.Log.Debugf("Copying directory (%s) to (%s)", b.Src, b.Dst)

	srcInfo, err := os.Stat(b.Src)
	if err != nil {
		return fmt.Errorf("failed to read source directory info (%s):\n%w", b.Src, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source (%s) is not a directory", b.Src)
	}

	return filepath.WalkDir(b.Src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("failed to walk (%s):\n%w", path, walkErr)
		}

		relPath, err := filepath.Rel(b.Src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(b.Dst, relPath)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat (%s):\n%w", path, err)
		}

		if entry.IsDir() {
			err = os.MkdirAll(dstPath, info.Mode().Perm())
			if err != nil {
				return fmt.Errorf("failed to create directory (%s):\n%w", dstPath, err)
			}
			return nil
		}

		exists, err := PathExists(dstPath)
		if err != nil {
			return err
		}
		if exists {
			switch b.UpdateMode {
			case FileCopyUpdateModeFailExisting:
				return fmt.Errorf("destination file (%s) already exists", dstPath)
			case FileCopyUpdateModeSkipExisting:
				return nil
			default:
				err = os.Remove(dstPath)
				if err != nil {
					return fmt.Errorf("failed to replace existing file (%s):\n%w", dstPath, err)
				}
			}
		}

		return NewFileCopyBuilder(path, dstPath).SetNoDereference().Run()
	})
}
