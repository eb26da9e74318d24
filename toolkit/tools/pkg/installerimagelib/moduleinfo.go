// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"slices"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
)

const (
	moduleInfoFileName = "module-info"
	moduleInfoHeader   = "Version 0\n"
)

// FormatModuleInfo renders the module description index. Records are sorted by name.
func FormatModuleInfo(descriptors []ModuleDescriptor) string {
	sorted := slices.Clone(descriptors)
	slices.SortFunc(sorted, func(a, b ModuleDescriptor) int {
		return strings.Compare(a.Name, b.Name)
	})

	builder := strings.Builder{}
	builder.WriteString(moduleInfoHeader)
	for _, descriptor := range sorted {
		fmt.Fprintf(&builder, "%s\n\t%s\n\t\"%s\"\n", descriptor.Name, descriptor.Category,
			normalizeModuleDescription(descriptor.Name, descriptor.Description))
	}
	return builder.String()
}

func WriteModuleInfo(path string, descriptors []ModuleDescriptor) error {
	err := file.Write(FormatModuleInfo(descriptors), path)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to write module description index (%s)", path), err)
	}
	return nil
}
