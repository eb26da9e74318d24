// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
	"path/filepath"
	"slices"
)

// ExternalToolPolicy decides whether a failing external tool aborts the build.
type ExternalToolPolicy string

const (
	ExternalToolPolicyDefault ExternalToolPolicy = ""
	ExternalToolPolicyStrict  ExternalToolPolicy = "strict"
	ExternalToolPolicyLenient ExternalToolPolicy = "lenient"
)

func (p ExternalToolPolicy) IsValid() error {
	switch p {
	case ExternalToolPolicyDefault, ExternalToolPolicyStrict, ExternalToolPolicyLenient:
		return nil

	default:
		return fmt.Errorf("invalid external tool policy (%s)", p)
	}
}

// KnownExternalTools lists the tool names that may be overridden in 'externalTools.paths'.
var KnownExternalTools = []string{"depmod", "dnf", "tdnf"}

type ExternalTools struct {
	Policy ExternalToolPolicy `yaml:"policy" json:"policy,omitempty" jsonschema:"enum=strict,enum=lenient"`
	// Paths maps a tool name to the executable to run instead of the one found in PATH.
	Paths map[string]string `yaml:"paths" json:"paths,omitempty"`
}

func (e *ExternalTools) IsValid() error {
	err := e.Policy.IsValid()
	if err != nil {
		return fmt.Errorf("invalid 'policy' value:\n%w", err)
	}

	for name, path := range e.Paths {
		if !slices.Contains(KnownExternalTools, name) {
			return fmt.Errorf("invalid 'paths' value: unknown tool (%s)", name)
		}

		if !filepath.IsAbs(path) {
			return fmt.Errorf("invalid 'paths' value: path of tool (%s) must be absolute (%s)", name, path)
		}
	}

	return nil
}
