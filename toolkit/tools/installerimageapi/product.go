// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimageapi

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

// Product identifies the distribution the installer image is built for. It is written
// into the build stamp of the image.
type Product struct {
	Name    string `yaml:"name" json:"name,omitempty"`
	Version string `yaml:"version" json:"version,omitempty"`
	BugUrl  string `yaml:"bugUrl" json:"bugUrl,omitempty"`
	BuildId string `yaml:"buildId" json:"buildId,omitempty"`
}

func (p *Product) IsValid() error {
	if strings.ContainsAny(p.Name, "\n\r") {
		return fmt.Errorf("invalid 'name' value (%s): must be a single line", p.Name)
	}

	if strings.ContainsAny(p.Version, "\n\r") {
		return fmt.Errorf("invalid 'version' value (%s): must be a single line", p.Version)
	}

	if p.BugUrl != "" && !govalidator.IsURL(p.BugUrl) {
		return fmt.Errorf("invalid 'bugUrl' value (%s)", p.BugUrl)
	}

	if strings.ContainsAny(p.BuildId, "\n\r") {
		return fmt.Errorf("invalid 'buildId' value (%s): must be a single line", p.BuildId)
	}

	return nil
}
