package swebench

import (
	"fmt"
	"strings"

	"github.com/sgl-project/ome-loop/pkg/constants"
)

// DockerImage is the SWE-bench evaluation image for an instance id.
func DockerImage(instanceID string) string {
	safe := strings.ToLower(strings.ReplaceAll(instanceID,
		constants.SWEBenchDoubleUnderscore, constants.SWEBenchDoubleUnderscoreSub))
	return fmt.Sprintf(constants.SWEBenchImageTemplate, safe)
}

// Image picks the row's image_name, then image, then the derived image,
// and makes sure the result is a docker:// reference.
func (i Instance) Image() string {
	image := i.ImageName
	if image == "" {
		image = i.AltImage
	}
	if image == "" {
		image = DockerImage(i.InstanceID)
	}
	if !strings.HasPrefix(image, constants.DockerImageScheme) {
		image = constants.DockerImageScheme + image
	}
	return image
}
