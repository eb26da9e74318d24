// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package initrdutils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/pgzip"
)

// CreateInitrdImageFromFolder writes the contents of inputDir as a gzip compressed
// newc cpio archive. Paths in the archive are relative to inputDir.
func CreateInitrdImageFromFolder(inputDir, outputInitrdImagePath string) (err error) {
	// The `inputDir` permissions will become the `/` permissions when the initrd
	// is mounted. This needs to be 0755 or some processes will fail to function
	// correctly.
	err = os.Chmod(inputDir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to change folder permissions for (%s):\n%w", inputDir, err)
	}

	err = os.MkdirAll(filepath.Dir(outputInitrdImagePath), os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create directory for image file (%s):\n%w", outputInitrdImagePath, err)
	}

	outputFile, err := os.Create(outputInitrdImagePath)
	if err != nil {
		return fmt.Errorf("failed to create image file (%s):\n%w", outputInitrdImagePath, err)
	}
	defer func() {
		closeErr := outputFile.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close image file (%s):\n%w", outputInitrdImagePath, closeErr)
		}
	}()

	gzipWriter, err := pgzip.NewWriterLevel(outputFile, pgzip.BestCompression)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer:\n%w", err)
	}

	cpioWriter := cpio.NewWriter(gzipWriter)

	err = filepath.Walk(inputDir, func(path string, info os.FileInfo, fileErr error) error {
		if fileErr != nil {
			return fmt.Errorf("encountered a file walk error on path (%s):\n%w", path, fileErr)
		}
		if path == inputDir {
			return nil
		}

		err := addFileToCpioArchive(inputDir, path, info, cpioWriter)
		if err != nil {
			return fmt.Errorf("failed to add (%s) to archive (%s):\n%w", path, outputInitrdImagePath, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = cpioWriter.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize cpio archive (%s):\n%w", outputInitrdImagePath, err)
	}

	err = gzipWriter.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize gzip stream (%s):\n%w", outputInitrdImagePath, err)
	}

	return nil
}

func buildCpioHeader(inputDir, path string, info os.FileInfo, link string) (*cpio.Header, error) {
	cpioHeader, err := cpio.FileInfoHeader(info, link)
	if err != nil {
		return nil, fmt.Errorf("failed to convert OS file info into a cpio header for (%s)\n%w", path, err)
	}

	relPath, err := filepath.Rel(inputDir, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get relative path of (%s) using root (%s):\n%w", path, inputDir, err)
	}
	cpioHeader.Name = filepath.ToSlash(relPath)

	// cpio.FileInfoHeader() does not set the owners.
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("failed to get file stat of (%s)", path)
	}
	cpioHeader.UID = int(stat.Uid)
	cpioHeader.GID = int(stat.Gid)

	return cpioHeader, nil
}

func addFileToCpioArchive(inputDir, path string, info os.FileInfo, cpioWriter *cpio.Writer) error {
	isSymlink := info.Mode()&os.ModeSymlink != 0

	link := ""
	if isSymlink {
		var err error
		link, err = os.Readlink(path)
		if err != nil {
			return fmt.Errorf("failed to read link information of (%s):\n%w", path, err)
		}
	}

	cpioHeader, err := buildCpioHeader(inputDir, path, info, link)
	if err != nil {
		return err
	}

	err = cpioWriter.WriteHeader(cpioHeader)
	if err != nil {
		return fmt.Errorf("failed to write cpio header for (%s)\n%w", path, err)
	}

	switch {
	case info.Mode().IsRegular():
		fileToAdd, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open (%s)\n%w", path, err)
		}
		defer fileToAdd.Close()

		_, err = io.Copy(cpioWriter, fileToAdd)
		if err != nil {
			return fmt.Errorf("failed to write (%s) to cpio archive\n%w", path, err)
		}

	case isSymlink:
		_, err = cpioWriter.Write([]byte(link))
		if err != nil {
			return fmt.Errorf("failed to write link (%s)\n%w", path, err)
		}
	}

	// Other special files only carry a header.
	return nil
}

// CreateFolderFromInitrdImage extracts a gzip compressed cpio archive into outputDir.
// Ownership is not restored.
func CreateFolderFromInitrdImage(inputInitrdImagePath, outputDir string) error {
	inputInitrdImageFile, err := os.Open(inputInitrdImagePath)
	if err != nil {
		return fmt.Errorf("failed to open file (%s):\n%w", inputInitrdImagePath, err)
	}
	defer inputInitrdImageFile.Close()

	pgzipReader, err := pgzip.NewReader(inputInitrdImageFile)
	if err != nil {
		return fmt.Errorf("failed to create a pgzip reader for (%s):\n%w", inputInitrdImagePath, err)
	}
	defer pgzipReader.Close()

	cpioReader := cpio.NewReader(pgzipReader)
	for {
		cpioHeader, err := cpioReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read cpio header from (%s):\n%w", inputInitrdImagePath, err)
		}

		path := filepath.Join(outputDir, filepath.Clean("/"+cpioHeader.Name))
		fileMode := os.FileMode(cpioHeader.Mode & cpio.ModePerm)

		switch cpioHeader.Mode & cpio.ModeType {
		case cpio.ModeDir:
			err = os.MkdirAll(path, fileMode|0o700)
			if err != nil {
				return fmt.Errorf("failed to create directory (%s):\n%w", path, err)
			}

		case cpio.ModeRegular:
			err = extractRegularFile(cpioReader, path, fileMode)
			if err != nil {
				return err
			}

		case cpio.ModeSymlink:
			err = os.MkdirAll(filepath.Dir(path), os.ModePerm)
			if err != nil {
				return fmt.Errorf("failed to create directory for (%s):\n%w", path, err)
			}
			err = os.Symlink(cpioHeader.Linkname, path)
			if err != nil {
				return fmt.Errorf("failed to create symbolic link (%s) to (%s)\n%w", path, cpioHeader.Linkname, err)
			}

		default:
			return fmt.Errorf("unsupported type (%o) in cpio archive (%s)", cpioHeader.Mode&cpio.ModeType,
				inputInitrdImagePath)
		}
	}

	return nil
}

func extractRegularFile(reader io.Reader, path string, fileMode os.FileMode) error {
	err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return fmt.Errorf("failed to create directory for (%s):\n%w", path, err)
	}

	destFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("failed to create file (%s):\n%w", path, err)
	}

	_, err = io.Copy(destFile, reader)
	closeErr := destFile.Close()
	if err != nil {
		return fmt.Errorf("failed to write file (%s):\n%w", path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close file (%s):\n%w", path, closeErr)
	}

	return nil
}
