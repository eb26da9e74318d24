// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tarutils

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/klauspost/pgzip"
)

// CreateTarGzArchive writes sourceDir as a gzip compressed tar archive. Symlinks are stored as links.
func CreateTarGzArchive(sourceDir, outputArchivePath string) (err error) {
	logger.Log.Infof("Creating archive (%s) from (%s)", outputArchivePath, sourceDir)

	outFile, err := os.Create(outputArchivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive (%s):\n%w", outputArchivePath, err)
	}
	defer func() {
		closeErr := outFile.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close archive (%s):\n%w", outputArchivePath, closeErr)
		}
	}()

	gw, err := pgzip.NewWriterLevel(outFile, pgzip.BestCompression)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer:\n%w", err)
	}

	tw := tar.NewWriter(gw)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == sourceDir {
			return nil
		}
		return addFileToTarArchive(sourceDir, path, info, tw)
	})
	if err != nil {
		return fmt.Errorf("failed to create archive (%s):\n%w", outputArchivePath, err)
	}

	err = tw.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize tar stream (%s):\n%w", outputArchivePath, err)
	}

	err = gw.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize gzip stream (%s):\n%w", outputArchivePath, err)
	}

	return nil
}

func addFileToTarArchive(sourceDir, path string, info os.FileInfo, tw *tar.Writer) error {
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		var err error
		link, err = os.Readlink(path)
		if err != nil {
			return fmt.Errorf("failed to read link (%s):\n%w", path, err)
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}

	relPath, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(relPath)
	if info.IsDir() {
		header.Name += "/"
	}

	err = tw.WriteHeader(header)
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// ExpandTarGzArchive extracts a gzip compressed tar archive into outputDir.
func ExpandTarGzArchive(sourceArchivePath, outputDir string) error {
	logger.Log.Infof("Expanding archive (%s) to (%s)", sourceArchivePath, outputDir)

	f, err := os.Open(sourceArchivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive (%s):\n%w", sourceArchivePath, err)
	}
	defer f.Close()

	gzr, err := pgzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader for (%s):\n%w", sourceArchivePath, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read header from archive:\n%w", err)
		}

		// Ensure the name is not a directory traversal element (e.g. '..') or
		// an absolute path.
		cleanName := filepath.Clean(header.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return fmt.Errorf("unallowed file reference in archive. (%s) may reference a file outside the expansion root (%s)", header.Name, outputDir)
		}

		target := filepath.Join(outputDir, cleanName)

		switch header.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, os.FileMode(header.Mode)|0o700)
			if err != nil {
				return fmt.Errorf("failed to create folder (%s)\n%w", target, err)
			}

		case tar.TypeReg:
			err = expandRegularFile(tr, target, os.FileMode(header.Mode))
			if err != nil {
				return err
			}

		case tar.TypeSymlink:
			err = os.MkdirAll(filepath.Dir(target), 0o755)
			if err != nil {
				return fmt.Errorf("failed to create parent folder for (%s)\n%w", target, err)
			}
			err = os.Symlink(header.Linkname, target)
			if err != nil {
				return fmt.Errorf("failed to create symlink (%s):\n%w", target, err)
			}

		default:
			return fmt.Errorf("failed to process unsupported file type in archive (%s): (%v)", target, header.Typeflag)
		}
	}
	return nil
}

func expandRegularFile(reader io.Reader, target string, mode os.FileMode) error {
	err := os.MkdirAll(filepath.Dir(target), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create parent folder for (%s)\n%w", target, err)
	}

	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create (%s):\n%w", target, err)
	}

	_, err = io.Copy(outFile, reader)
	closeErr := outFile.Close()
	if err != nil {
		return fmt.Errorf("failed to copy (%s) from archive:\n%w", target, err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close (%s):\n%w", target, closeErr)
	}

	return nil
}
