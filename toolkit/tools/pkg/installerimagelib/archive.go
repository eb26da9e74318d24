// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/initrdutils"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/tarutils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const BuildStampFileName = ".buildstamp"

// BuildStamp identifies the build an image came from.
type BuildStamp struct {
	ImageId string
	Product string
	Version string
	BugUrl  string
}

func (s BuildStamp) String() string {
	return fmt.Sprintf("%s\n%s\n%s\n%s\n", s.ImageId, s.Product, s.Version, s.BugUrl)
}

func WriteBuildStamp(destDir string, stamp BuildStamp) error {
	path := filepath.Join(destDir, BuildStampFileName)
	err := file.Write(stamp.String(), path)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to write build stamp (%s)", path), err)
	}
	return nil
}

// ProduceArchive writes the build stamp into destDir and then packs destDir into outPath.
func ProduceArchive(ctx context.Context, destDir string, outPath string, stamp BuildStamp,
	format installerimageapi.ArchiveFormatType,
) error {
	_, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "produce_archive")
	span.SetAttributes(
		attribute.String("format", string(format)),
	)
	defer span.End()

	err := WriteBuildStamp(destDir, stamp)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(outPath), 0o755)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to create output directory of (%s)", outPath), err)
	}

	logger.Log.Infof("Writing (%s)", outPath)

	switch format {
	case installerimageapi.ArchiveFormatTypeTarGzip:
		err = tarutils.CreateTarGzArchive(destDir, outPath)

	default:
		err = initrdutils.CreateInitrdImageFromFolder(destDir, outPath)
	}
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to create archive (%s)", outPath), err)
	}

	return nil
}
