// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"os/exec"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
)

type ToolName string

const (
	ToolDepmod ToolName = "depmod"
	ToolDnf    ToolName = "dnf"
	ToolTdnf   ToolName = "tdnf"
)

// ToolTable maps each external tool a build needs to its executable.
type ToolTable map[ToolName]string

type lookPathFunc func(file string) (string, error)

// RequiredTools lists the tools a build with the given config invokes.
func RequiredTools(config *BuildConfig) []ToolName {
	tools := []ToolName{ToolDepmod}
	if config.InstallPackages {
		switch config.PackageManager {
		case installerimageapi.PackageManagerTypeTdnf:
			tools = append(tools, ToolTdnf)

		default:
			tools = append(tools, ToolDnf)
		}
	}
	return tools
}

// ResolveToolTable finds every required tool, either at its configured path or in PATH.
func ResolveToolTable(required []ToolName, overrides map[string]string) (ToolTable, error) {
	return resolveToolTable(required, overrides, exec.LookPath)
}

func resolveToolTable(required []ToolName, overrides map[string]string, lookPath lookPathFunc) (ToolTable, error) {
	table := make(ToolTable, len(required))
	for _, tool := range required {
		program := string(tool)
		if override, ok := overrides[string(tool)]; ok {
			program = override
		}

		path, err := lookPath(program)
		if err != nil {
			return nil, NewBuildErrorWithCause(ErrTypeConfig,
				fmt.Sprintf("required tool (%s) was not found (%s)", tool, program), err)
		}

		table[tool] = path
	}
	return table, nil
}

func (t ToolTable) Path(tool ToolName) (string, error) {
	path, ok := t[tool]
	if !ok {
		return "", NewBuildError(ErrTypeConfig, fmt.Sprintf("tool (%s) was not resolved at startup", tool))
	}
	return path, nil
}
