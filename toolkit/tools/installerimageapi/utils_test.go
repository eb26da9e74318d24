// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalAndValidateYamlFile(t *testing.T) {
	configContent := `
paths:
  treeDir: tree
  destDir: initrd
kernelVersion: 6.6.47.1-1.azl3
architecture: x86_64
libDir: lib64
product:
  name: Azure Linux
  version: "3.0"
  bugUrl: https://github.com/microsoft/azurelinux/issues
modules:
  compression: zstd
externalTools:
  policy: lenient
archive:
  format: cpio-gzip
packages:
  install: true
  packageManager: tdnf
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	var config Config
	err := UnmarshalAndValidateYamlFile(configPath, &config)
	require.NoError(t, err)

	assert.Equal(t, "tree", config.Paths.TreeDir)
	assert.Equal(t, "6.6.47.1-1.azl3", config.KernelVersion)
	assert.Equal(t, "3.0", config.Product.Version)
	assert.Equal(t, ModuleCompressionTypeZstd, config.Modules.Compression)
	assert.Equal(t, ExternalToolPolicyLenient, config.ExternalTools.Policy)
	assert.Equal(t, ArchiveFormatTypeCpioGzip, config.Archive.Format)
	assert.True(t, config.Packages.Install)
	assert.Equal(t, PackageManagerTypeTdnf, config.Packages.PackageManager)
}

func TestUnmarshalYamlUnknownField(t *testing.T) {
	var config Config
	err := UnmarshalAndValidateYaml([]byte("kernel: 6.6.0\n"), &config)
	assert.ErrorContains(t, err, "field kernel not found")
}

func TestUnmarshalYamlInvalidValue(t *testing.T) {
	var config Config
	err := UnmarshalAndValidateYaml([]byte("archive:\n  format: zip\n"), &config)
	assert.ErrorContains(t, err, "invalid 'archive' value")
}

func TestMarshalYamlRoundTrip(t *testing.T) {
	config := Config{
		Product: Product{Name: "Fedora", Version: "40"},
	}

	yamlString, err := MarshalYaml(config)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, UnmarshalAndValidateYaml([]byte(yamlString), &decoded))
	assert.Equal(t, config.Product, decoded.Product)
}
