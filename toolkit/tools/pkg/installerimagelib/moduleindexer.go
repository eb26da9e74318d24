// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/shell"
	"github.com/sirupsen/logrus"
)

// ModuleIndexer regenerates the module dependency index of a root filesystem.
type ModuleIndexer interface {
	// Index rebuilds the index of kernelVersion under rootDir. systemMap may be empty.
	Index(ctx context.Context, rootDir string, kernelVersion string, systemMap string) error
}

// DepmodIndexer runs depmod against a root filesystem.
type DepmodIndexer struct {
	Path string
}

func (d DepmodIndexer) Index(ctx context.Context, rootDir string, kernelVersion string, systemMap string) error {
	args := []string{"-a"}
	if systemMap != "" {
		args = append(args, "-F", systemMap)
	}
	args = append(args, "-b", rootDir, kernelVersion)

	return shell.NewExecBuilder(d.Path, args...).
		Context(ctx).
		LogLevel(logrus.DebugLevel, logrus.WarnLevel).
		ErrorStderrLines(1).
		Execute()
}
