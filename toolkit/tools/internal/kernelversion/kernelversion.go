// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package kernelversion

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"golang.org/x/sys/unix"
)

const (
	vmlinuzPrefix = "vmlinuz-"
)

var (
	// Parses the kernel version from "uname -r", "vmlinuz-*" file names or subdirectories of /lib/modules.
	//
	// Examples:
	//   OS               Version
	//   Fedora 40        6.11.6-200.fc40.x86_64
	//   Ubuntu 22.04     6.8.0-48-generic
	//   Azure Linux 3.0  6.6.47.1-1.azl3
	kernelVersionRegex = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?([.\-+][a-zA-Z0-9_.\-+]*)?$`)

	// Splits a version string into its numeric and alphabetic runs.
	versionComponentRegex = regexp.MustCompile(`\d+|[a-zA-Z]+`)
)

// KernelVersion is a parsed kernel release string.
type KernelVersion struct {
	Release string
	parts   []string
}

func Parse(release string) (KernelVersion, error) {
	if !kernelVersionRegex.MatchString(release) {
		return KernelVersion{}, fmt.Errorf("failed to parse kernel version (%s)", release)
	}

	return KernelVersion{
		Release: release,
		parts:   versionComponentRegex.FindAllString(release, -1),
	}, nil
}

// Cmp orders two kernel releases. Numeric runs compare numerically, alphabetic runs
// lexically, and a numeric run sorts after an alphabetic one.
func (v KernelVersion) Cmp(other KernelVersion) int {
	count := max(len(v.parts), len(other.parts))
	for i := 0; i < count; i++ {
		if i >= len(v.parts) {
			return -1
		}
		if i >= len(other.parts) {
			return 1
		}

		c := compareComponent(v.parts[i], other.parts[i])
		if c != 0 {
			return c
		}
	}
	return 0
}

func (v KernelVersion) String() string {
	return v.Release
}

func compareComponent(a, b string) int {
	aNum, aErr := strconv.Atoi(a)
	bNum, bErr := strconv.Atoi(b)

	switch {
	case aErr == nil && bErr == nil:
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		}
		return 0

	case aErr == nil:
		return 1

	case bErr == nil:
		return -1

	default:
		return strings.Compare(a, b)
	}
}

// FindInstalledKernels lists the kernel releases installed in a root filesystem tree, newest
// first. Kernel images under /boot are preferred; /lib/modules is used when /boot has none.
func FindInstalledKernels(rootDir string) ([]KernelVersion, error) {
	releases, err := releasesFromBootDir(filepath.Join(rootDir, "boot"))
	if err != nil {
		return nil, err
	}

	if len(releases) == 0 {
		releases, err = releasesFromModulesDir(filepath.Join(rootDir, "lib/modules"))
		if err != nil {
			return nil, err
		}
	}

	versions := []KernelVersion(nil)
	for _, release := range releases {
		version, err := Parse(release)
		if err != nil {
			logger.Log.Debugf("Ignoring kernel (%s): %s", release, err)
			continue
		}
		versions = append(versions, version)
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Cmp(versions[j]) > 0
	})

	return versions, nil
}

// DetectKernelVersion returns the newest kernel release installed in a root filesystem tree.
func DetectKernelVersion(rootDir string) (KernelVersion, error) {
	versions, err := FindInstalledKernels(rootDir)
	if err != nil {
		return KernelVersion{}, err
	}

	if len(versions) == 0 {
		return KernelVersion{}, fmt.Errorf("no kernel found in (%s)", rootDir)
	}

	if len(versions) > 1 {
		logger.Log.Warnf("Multiple kernels found in (%s), using (%s)", rootDir, versions[0])
	}

	return versions[0], nil
}

func releasesFromBootDir(bootDir string) ([]string, error) {
	entries, err := os.ReadDir(bootDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read boot directory (%s):\n%w", bootDir, err)
	}

	releases := []string(nil)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, vmlinuzPrefix) {
			continue
		}
		releases = append(releases, strings.TrimPrefix(name, vmlinuzPrefix))
	}
	return releases, nil
}

func releasesFromModulesDir(modulesDir string) ([]string, error) {
	entries, err := os.ReadDir(modulesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read modules directory (%s):\n%w", modulesDir, err)
	}

	releases := []string(nil)
	for _, entry := range entries {
		if entry.IsDir() {
			releases = append(releases, entry.Name())
		}
	}
	return releases, nil
}

// GetBuildHostArchitecture returns the machine hardware name of the build host (uname -m).
func GetBuildHostArchitecture() (string, error) {
	utsName := unix.Utsname{}
	err := unix.Uname(&utsName)
	if err != nil {
		return "", fmt.Errorf("failed to query uname:\n%w", err)
	}

	return utsString(utsName.Machine[:]), nil
}

func utsString(field []byte) string {
	length := bytes.IndexByte(field, 0)
	if length < 0 {
		length = len(field)
	}
	return string(field[:length])
}
