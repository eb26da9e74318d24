// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
	"slices"
)

type ModuleCompressionType string

const (
	ModuleCompressionTypeDefault ModuleCompressionType = ""
	ModuleCompressionTypeGzip    ModuleCompressionType = "gzip"
	ModuleCompressionTypeXz      ModuleCompressionType = "xz"
	ModuleCompressionTypeZstd    ModuleCompressionType = "zstd"
	ModuleCompressionTypeNone    ModuleCompressionType = "none"
)

var supportedModuleCompressionTypes = []string{
	string(ModuleCompressionTypeGzip),
	string(ModuleCompressionTypeXz),
	string(ModuleCompressionTypeZstd),
	string(ModuleCompressionTypeNone),
}

func (t ModuleCompressionType) IsValid() error {
	if t != ModuleCompressionTypeDefault && !slices.Contains(supportedModuleCompressionTypes, string(t)) {
		return fmt.Errorf("invalid module compression type (%s)", t)
	}

	return nil
}

// AmbiguousNamePolicy decides what happens when two module files share a base name.
type AmbiguousNamePolicy string

const (
	AmbiguousNamePolicyDefault AmbiguousNamePolicy = ""
	AmbiguousNamePolicyWarn    AmbiguousNamePolicy = "warn"
	AmbiguousNamePolicyFail    AmbiguousNamePolicy = "fail"
)

func (p AmbiguousNamePolicy) IsValid() error {
	switch p {
	case AmbiguousNamePolicyDefault, AmbiguousNamePolicyWarn, AmbiguousNamePolicyFail:
		return nil

	default:
		return fmt.Errorf("invalid ambiguous module name policy (%s)", p)
	}
}

type Modules struct {
	Compression    ModuleCompressionType `yaml:"compression" json:"compression,omitempty" jsonschema:"enum=gzip,enum=xz,enum=zstd,enum=none"`
	AmbiguousNames AmbiguousNamePolicy   `yaml:"ambiguousNames" json:"ambiguousNames,omitempty" jsonschema:"enum=warn,enum=fail"`
}

func (m *Modules) IsValid() error {
	err := m.Compression.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'compression' value:\n%w", err)
	}

	err = m.AmbiguousNames.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'ambiguousNames' value:\n%w", err)
	}

	return nil
}
