// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"time"
)

const imageIdTimeLayout = "200601021504"

// FormatImageId returns the image id written to the build stamp: build time down to the
// minute followed by the architecture.
func FormatImageId(buildTime time.Time, arch string) string {
	return buildTime.Format(imageIdTimeLayout) + "." + arch
}
