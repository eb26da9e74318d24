// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/invopop/jsonschema"
)

type SchemaCmd struct {
	Output string `name:"output" short:"o" help:"Path to the output JSON schema file." required:""`
}

func main() {
	cli := &SchemaCmd{}
	_ = kong.Parse(cli,
		kong.Name("installerimageschemacli"),
		kong.Description("Generates the JSON schema of the installer image config file."),
		kong.UsageOnError())

	err := generateJSONSchema(cli.Output)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("JSON schema has been written to %s\n", cli.Output)
}

func generateJSONSchema(outputFile string) error {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&installerimageapi.Config{})
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema:\n%w", err)
	}

	err = os.WriteFile(outputFile, schemaJSON, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write schema to file (%s):\n%w", outputFile, err)
	}

	return nil
}
