// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateJSONSchema(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "schema.json")

	err := generateJSONSchema(outputFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	schema := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &schema))

	definitions, ok := schema["$defs"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, definitions, "Config")
	assert.Contains(t, definitions, "Paths")
	assert.Contains(t, definitions, "Modules")
}
