// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package file

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PathExists reports whether a path exists. Symlinks are not followed.
func PathExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// ReadLines reads a file and returns its lines without line terminators.
func ReadLines(path string) ([]string, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	lines := []string(nil)
	scanner := bufio.NewScanner(handle)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read (%s):\n%w", path, err)
	}

	return lines, nil
}

// Write replaces the contents of a file, creating it if necessary.
func Write(data string, dst string) error {
	err := CreateDestinationDir(dst, os.ModePerm)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(data), 0o644)
}

// WriteLines writes each line followed by a newline.
func WriteLines(lines []string, dst string) error {
	builder := strings.Builder{}
	for _, line := range lines {
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	return Write(builder.String(), dst)
}

// RemoveFileIfExists removes a file, symlink or directory tree. A missing path is not an error.
func RemoveFileIfExists(path string) error {
	err := os.RemoveAll(path)
	if err != nil {
		return fmt.Errorf("failed to remove (%s):\n%w", path, err)
	}
	return nil
}

// CreateDestinationDir creates the parent directory of a destination file.
func CreateDestinationDir(dst string, dirFileMode os.FileMode) error {
	dir := filepath.Dir(dst)
	err := os.MkdirAll(dir, dirFileMode)
	if err != nil {
		return err
	}
	return nil
}

// Copy copies a single file, following symlinks.
func Copy(src, dst string) error {
	return NewFileCopyBuilder(src, dst).Run()
}

// Move renames a file or directory, falling back to copy and delete across filesystems.
func Move(src, dst string) error {
	err := CreateDestinationDir(dst, os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create destination directory (%s):\n%w", dst, err)
	}

	err = os.Rename(src, dst)
	if err == nil {
		return nil
	}

	info, statErr := os.Lstat(src)
	if statErr != nil {
		return fmt.Errorf("failed to move (%s) to (%s):\n%w", src, dst, err)
	}

	if info.IsDir() {
		err = NewDirCopyBuilder(src, dst).Run()
	} else {
		err = NewFileCopyBuilder(src, dst).SetNoDereference().Run()
	}
	if err != nil {
		return fmt.Errorf("failed to move (%s) to (%s):\n%w", src, dst, err)
	}

	return os.RemoveAll(src)
}
