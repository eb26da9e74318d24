// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Tool to build the initrd of an installer image

package main

import (
	"context"
	"log"
	"maps"

	"github.com/alecthomas/kong"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/exekong"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/telemetry"
	"github.com/installerimage/installer-image-tools/toolkit/tools/pkg/installerimagelib"
)

type InstallerImageCmd struct {
	ConfigFile    string           `name:"config-file" help:"Path of the installer image config file." required:""`
	TreeDir       string           `name:"tree-dir" help:"Pre-populated root filesystem to build the initrd from. Overrides 'paths.treeDir'."`
	DestDir       string           `name:"dest-dir" help:"Working directory of the initrd tree. Recreated on every build. Overrides 'paths.destDir'."`
	OutputDir     string           `name:"output-dir" help:"Directory to write initrd.img to. Overrides 'paths.outputDir'."`
	KernelVersion string           `name:"kernel-version" help:"Kernel release whose modules are included. Detected from the tree when not set."`
	Arch          string           `name:"arch" help:"Target architecture. Defaults to the build host's architecture."`
	Version       kong.VersionFlag `name:"version" help:"Print the tool version and exit."`
	exekong.LogFlags
	exekong.TelemetryFlags
}

func main() {
	ctx := context.Background()

	cli := &InstallerImageCmd{}

	vars := kong.Vars{
		"version": installerimagelib.ToolVersion,
	}
	maps.Copy(vars, exekong.KongVars)

	_ = kong.Parse(cli,
		vars,
		kong.HelpOptions{
			Compact:   true,
			FlagsLast: true,
		},
		kong.UsageOnError())

	logger.InitBestEffort(cli.LogFlags.AsLoggerFlags())

	err := telemetry.InitTelemetry(telemetry.Options{
		Disabled:           cli.DisableTelemetry,
		ToolVersion:        installerimagelib.ToolVersion,
		TargetArchitecture: cli.Arch,
	})
	if err != nil {
		logger.Log.Warnf("Failed to initialize telemetry:\n%v", err)
	}
	defer func() {
		err := telemetry.ShutdownTelemetry(ctx)
		if err != nil {
			logger.Log.Warnf("Failed to shut down telemetry:\n%v", err)
		}
	}()

	session, err := installerimagelib.BuildInitrdWithConfigFile(ctx, cli.ConfigFile, installerimagelib.BuildOptions{
		TreeDir:       cli.TreeDir,
		DestDir:       cli.DestDir,
		OutputDir:     cli.OutputDir,
		KernelVersion: cli.KernelVersion,
		Architecture:  cli.Arch,
	})
	if err != nil {
		// log.Fatalf skips deferred calls.
		shutdownErr := telemetry.ShutdownTelemetry(ctx)
		if shutdownErr != nil {
			logger.Log.Warnf("Failed to shut down telemetry:\n%v", shutdownErr)
		}
		log.Fatalf("initrd build failed:\n%v", err)
	}

	logger.Log.Infof("Image id: %s", session.ImageId)
}
