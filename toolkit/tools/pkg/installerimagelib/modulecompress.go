// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func moduleCompressionSuffix(compression installerimageapi.ModuleCompressionType) string {
	switch compression {
	case installerimageapi.ModuleCompressionTypeXz:
		return ".xz"
	case installerimageapi.ModuleCompressionTypeZstd:
		return ".zst"
	case installerimageapi.ModuleCompressionTypeNone:
		return ""
	default:
		return ".gz"
	}
}

// compressModuleFile replaces an uncompressed module file with its compressed form. The
// compressed file is written in stagingDir first, so a failed compression never leaves a
// truncated module in the tree.
func compressModuleFile(path string, compression installerimageapi.ModuleCompressionType, stagingDir string,
) (err error) {
	suffix := moduleCompressionSuffix(compression)
	if suffix == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	staged, err := os.CreateTemp(stagingDir, filepath.Base(path)+".*"+suffix)
	if err != nil {
		return fmt.Errorf("failed to create staging file for (%s):\n%w", path, err)
	}
	stagedPath := staged.Name()
	defer func() {
		if err != nil {
			staged.Close()
			os.Remove(stagedPath)
		}
	}()

	writer, err := newModuleCompressor(staged, compression)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, src)
	if err != nil {
		writer.Close()
		return fmt.Errorf("failed to compress (%s):\n%w", path, err)
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize (%s):\n%w", stagedPath, err)
	}

	// CreateTemp always uses 0600.
	err = staged.Chmod(info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to set permissions of (%s):\n%w", stagedPath, err)
	}

	err = staged.Close()
	if err != nil {
		return fmt.Errorf("failed to close (%s):\n%w", stagedPath, err)
	}

	err = file.Move(stagedPath, path+suffix)
	if err != nil {
		return err
	}

	return os.Remove(path)
}

func newModuleCompressor(w io.Writer, compression installerimageapi.ModuleCompressionType) (io.WriteCloser, error) {
	switch compression {
	case installerimageapi.ModuleCompressionTypeXz:
		// The kernel's xz decoder only supports CRC32 checks.
		return xz.WriterConfig{CheckSum: xz.CRC32}.NewWriter(w)

	case installerimageapi.ModuleCompressionTypeZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))

	default:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	}
}

// readModuleFile returns the uncompressed contents of a module file.
func readModuleFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	switch {
	case strings.HasSuffix(path, ".gz"):
		gzipReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gzipReader.Close()
		reader = gzipReader

	case strings.HasSuffix(path, ".xz"):
		xzReader, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		reader = xzReader

	case strings.HasSuffix(path, ".zst"):
		zstdReader, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zstdReader.Close()
		reader = zstdReader

	default:
		return data, nil
	}

	return io.ReadAll(reader)
}
