// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/shell"
	"github.com/sirupsen/logrus"
)

// Packages every installer tree needs.
var requiredPackages = []string{"anaconda", "anaconda-runtime", "kernel", "*firmware*", "syslinux"}

// PackageInstaller installs a named package set into a root filesystem.
type PackageInstaller interface {
	Install(ctx context.Context, rootDir string, packages []string) error
}

// DnfInstaller installs packages with dnf or tdnf, which share a command line.
type DnfInstaller struct {
	Path string
}

func (d DnfInstaller) Install(ctx context.Context, rootDir string, packages []string) error {
	args := []string{"--installroot", rootDir, "-y", "install"}
	args = append(args, packages...)

	stdout, stderr, err := shell.NewExecBuilder(d.Path, args...).
		Context(ctx).
		LogLevel(logrus.DebugLevel, logrus.DebugLevel).
		ExecuteCaptureOutput()
	if err == nil {
		return nil
	}

	output := stdout + "\n" + stderr
	if missing := missingPackage(output); missing != "" {
		return NewBuildErrorWithCause(ErrTypePackageNotFound, fmt.Sprintf("package (%s) not found", missing), err)
	}

	return NewBuildErrorWithCause(ErrTypePackageManager,
		fmt.Sprintf("failed to install packages into (%s)", rootDir), err)
}

// missingPackage finds the package name in a dnf or tdnf "not found" message.
func missingPackage(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if name, found := strings.CutPrefix(line, "No match for argument:"); found {
			return strings.TrimSpace(name)
		}

		if rest, found := strings.CutPrefix(line, "No package "); found && strings.HasSuffix(rest, " available.") {
			return strings.TrimSpace(strings.TrimSuffix(rest, " available."))
		}
	}
	return ""
}

// PackageListFiles returns the package list files of an architecture in the order they apply.
func PackageListFiles(configDir string, arch string) []string {
	return []string{
		filepath.Join(configDir, "packages", "packages"),
		filepath.Join(configDir, "packages", arch, "packages"),
	}
}

// SelectPackages returns the packages an installer tree needs: the required set, the
// package list files and the files the action template installs, as paths inside treeDir.
func SelectPackages(packageFiles []string, actions []Action, treeDir string) ([]string, error) {
	listed := make(map[string]struct{})
	for _, packageFile := range packageFiles {
		lines, err := readOptionalLines(packageFile)
		if err != nil {
			return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to read package list (%s)", packageFile), err)
		}

		for _, line := range lines {
			line, _, _ = strings.Cut(line, "#")
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if name, found := strings.CutPrefix(line, "-"); found {
				delete(listed, strings.TrimSpace(name))
			} else {
				listed[line] = struct{}{}
			}
		}
	}

	packages := slices.Clone(requiredPackages)
	packages = append(packages, slices.Sorted(maps.Keys(listed))...)

	for _, action := range actions {
		copyAction, ok := action.(*CopyAction)
		if !ok || !copyAction.Install {
			continue
		}

		rel, err := filepath.Rel(treeDir, copyAction.Source)
		if err != nil {
			continue
		}
		packages = append(packages, "/"+filepath.ToSlash(rel))
	}

	deduped := []string(nil)
	seen := make(map[string]bool)
	for _, name := range packages {
		if !seen[name] {
			seen[name] = true
			deduped = append(deduped, name)
		}
	}

	logger.Log.Debugf("Selected %d packages", len(deduped))
	return deduped, nil
}
