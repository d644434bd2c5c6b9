package runconfig

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Module provides the run configuration from the shared viper instance.
var Module = fx.Provide(
	func(v *viper.Viper) (*Config, error) {
		c, err := NewConfig(WithViper(v))
		if err != nil {
			return nil, fmt.Errorf("error creating run config: %w", err)
		}
		return c, nil
	})
