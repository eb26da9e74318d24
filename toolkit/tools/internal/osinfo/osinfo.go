// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package osinfo

import (
	"fmt"
	"path/filepath"

	"gopkg.in/ini.v1"
)

const (
	osReleasePath = "etc/os-release"
)

type OsRelease struct {
	Name      string
	VersionId string
	Version   string
}

// GetDistroAndVersion returns the distribution name and version of the host machine.
func GetDistroAndVersion() (string, string) {
	release, err := ReadOsRelease("/")
	if err != nil {
		return "Unknown Distro", "Unknown Version"
	}
	return release.Name, release.Version
}

// ReadOsRelease parses the os-release file of a root filesystem tree.
func ReadOsRelease(rootDir string) (OsRelease, error) {
	path := filepath.Join(rootDir, osReleasePath)

	cfg, err := ini.Load(path)
	if err != nil {
		return OsRelease{}, fmt.Errorf("failed to read os-release file (%s):\n%w", path, err)
	}

	section := cfg.Section("")
	return OsRelease{
		Name:      section.Key("NAME").String(),
		VersionId: section.Key("VERSION_ID").String(),
		Version:   section.Key("VERSION").String(),
	}, nil
}
