// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
	"path/filepath"
)

// Config is the yaml configuration of an installer initrd build.
type Config struct {
	Paths         Paths         `yaml:"paths" json:"paths,omitempty"`
	KernelVersion string        `yaml:"kernelVersion" json:"kernelVersion,omitempty"`
	Architecture  string        `yaml:"architecture" json:"architecture,omitempty"`
	LibDir        string        `yaml:"libDir" json:"libDir,omitempty" jsonschema:"enum=lib,enum=lib64"`
	Product       Product       `yaml:"product" json:"product,omitempty"`
	Modules       Modules       `yaml:"modules" json:"modules,omitempty"`
	ExternalTools ExternalTools `yaml:"externalTools" json:"externalTools,omitempty"`
	Archive       Archive       `yaml:"archive" json:"archive,omitempty"`
	Packages      Packages      `yaml:"packages" json:"packages,omitempty"`
}

func (c *Config) IsValid() error {
	err := c.Paths.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'paths' value:\n%w", err)
	}

	if c.KernelVersion != "" && filepath.Base(c.KernelVersion) != c.KernelVersion {
		return fmt.Errorf("invalid 'kernelVersion' value (%s): must not contain a path separator", c.KernelVersion)
	}

	if c.Architecture != "" && filepath.Base(c.Architecture) != c.Architecture {
		return fmt.Errorf("invalid 'architecture' value (%s): must not contain a path separator", c.Architecture)
	}

	switch c.LibDir {
	case "", "lib", "lib64":
	default:
		return fmt.Errorf("invalid 'libDir' value (%s): must be 'lib' or 'lib64'", c.LibDir)
	}

	err = c.Product.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'product' value:\n%w", err)
	}

	err = c.Modules.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'modules' value:\n%w", err)
	}

	err = c.ExternalTools.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'externalTools' value:\n%w", err)
	}

	err = c.Archive.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'archive' value:\n%w", err)
	}

	err = c.Packages.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'packages' value:\n%w", err)
	}

	return nil
}
