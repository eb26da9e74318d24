// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
)

type ArchiveFormatType string

const (
	ArchiveFormatTypeDefault  ArchiveFormatType = ""
	ArchiveFormatTypeCpioGzip ArchiveFormatType = "cpio-gzip"
	ArchiveFormatTypeTarGzip  ArchiveFormatType = "tar-gzip"
)

func (t ArchiveFormatType) IsValid() error {
	switch t {
	case ArchiveFormatTypeDefault, ArchiveFormatTypeCpioGzip, ArchiveFormatTypeTarGzip:
		return nil

	default:
		return fmt.Errorf("invalid archive format (%s)", t)
	}
}

type Archive struct {
	Format ArchiveFormatType `yaml:"format" json:"format,omitempty" jsonschema:"enum=cpio-gzip,enum=tar-gzip"`
}

func (a *Archive) IsValid() error {
	err := a.Format.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'format' value:\n%w", err)
	}

	return nil
}
