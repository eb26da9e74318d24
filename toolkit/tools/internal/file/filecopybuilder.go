// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package file

import (
	"fmt"
	"io"
	"os"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

// FileCopyBuilder copies one file. By default symlinks are followed and the source
// permissions are kept.
type FileCopyBuilder struct {
	Src            string
	Dst            string
	DirFileMode    os.FileMode
	ChangeFileMode bool
	FileMode       os.FileMode
	NoDereference  bool
}

func NewFileCopyBuilder(src string, dst string) FileCopyBuilder {
	return FileCopyBuilder{
		Src:         src,
		Dst:         dst,
		DirFileMode: os.ModePerm,
		FileMode:    os.ModePerm,
	}
}

func (b FileCopyBuilder) SetDirFileMode(dirFileMode os.FileMode) FileCopyBuilder {
	b.DirFileMode = dirFileMode
	return b
}

func (b FileCopyBuilder) SetFileMode(fileMode os.FileMode) FileCopyBuilder {
	b.ChangeFileMode = true
	b.FileMode = fileMode
	return b
}

// SetNoDereference copies symlinks as symlinks instead of copying their targets.
func (b FileCopyBuilder) SetNoDereference() FileCopyBuilder {
	b.NoDereference = true
	return b
}

func (b FileCopyBuilder) Run() error {
	logger.Log.Tracef("Copying (%s) to (%s)", b.Src, b.Dst)

	if b.NoDereference && b.ChangeFileMode {
		return fmt.Errorf("cannot modify file permissions of symlinks")
	}

	err := CreateDestinationDir(b.Dst, b.DirFileMode)
	if err != nil {
		return fmt.Errorf("failed to create destination directory (%s):\n%w", b.Dst, err)
	}

	if b.NoDereference {
		linkInfo, err := os.Lstat(b.Src)
		if err != nil {
			return fmt.Errorf("failed to read source file link info (%s):\n%w", b.Src, err)
		}

		if linkInfo.Mode().Type() == os.ModeSymlink {
			return b.copySymlink()
		}
	}

	return b.copyContents()
}

func (b FileCopyBuilder) copySymlink() error {
	target, err := os.Readlink(b.Src)
	if err != nil {
		return fmt.Errorf("failed to read source symlink (%s):\n%w", b.Src, err)
	}

	// A previous copy may already have placed something at the destination.
	err = os.Remove(b.Dst)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace destination (%s):\n%w", b.Dst, err)
	}

	err = os.Symlink(target, b.Dst)
	if err != nil {
		return fmt.Errorf("failed to copy symlink (%s):\n%w", b.Src, err)
	}

	return nil
}

func (b FileCopyBuilder) copyContents() error {
	srcFileInfo, err := os.Stat(b.Src)
	if err != nil {
		return fmt.Errorf("failed to read source file info (%s):\n%w", b.Src, err)
	}

	if srcFileInfo.IsDir() {
		return fmt.Errorf("source (%s) is not a file", b.Src)
	}

	dstFileMode := srcFileInfo.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	if b.ChangeFileMode {
		dstFileMode = b.FileMode
	}

	srcFile, err := os.Open(b.Src)
	if err != nil {
		return fmt.Errorf("failed to open source file (%s):\n%w", b.Src, err)
	}
	defer srcFile.Close()

	// Never write through a symlink left at the destination.
	dstInfo, err := os.Lstat(b.Dst)
	if err == nil && dstInfo.Mode().Type() == os.ModeSymlink {
		err = os.Remove(b.Dst)
		if err != nil {
			return fmt.Errorf("failed to replace destination symlink (%s):\n%w", b.Dst, err)
		}
	}

	dstFile, err := os.OpenFile(b.Dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, dstFileMode)
	if err != nil {
		return fmt.Errorf("failed to create destination file (%s):\n%w", b.Dst, err)
	}

	_, err = io.Copy(dstFile, srcFile)
	if err != nil {
		dstFile.Close()
		return fmt.Errorf("failed to copy file (%s):\n%w", b.Src, err)
	}

	// The permissions given to OpenFile are subject to umask.
	err = dstFile.Chmod(dstFileMode)
	if err != nil {
		dstFile.Close()
		return fmt.Errorf("failed to set destination file permissions (%s):\n%w", b.Dst, err)
	}

	err = dstFile.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize destination file (%s):\n%w", b.Dst, err)
	}

	return nil
}
