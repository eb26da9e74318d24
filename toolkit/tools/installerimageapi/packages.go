// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
)

type PackageManagerType string

const (
	PackageManagerTypeDefault PackageManagerType = ""
	PackageManagerTypeDnf     PackageManagerType = "dnf"
	PackageManagerTypeTdnf    PackageManagerType = "tdnf"
)

func (t PackageManagerType) IsValid() error {
	switch t {
	case PackageManagerTypeDefault, PackageManagerTypeDnf, PackageManagerTypeTdnf:
		return nil

	default:
		return fmt.Errorf("invalid package manager (%s)", t)
	}
}

type Packages struct {
	// Install runs the package manager against the tree before the initrd is assembled.
	Install        bool               `yaml:"install" json:"install,omitempty"`
	PackageManager PackageManagerType `yaml:"packageManager" json:"packageManager,omitempty" jsonschema:"enum=dnf,enum=tdnf"`
}

func (p *Packages) IsValid() error {
	err := p.PackageManager.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'packageManager' value:\n%w", err)
	}

	return nil
}
