package configutils

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// ProvideViperFromFile provides an fx module for creating viper instance
// from the specified config file. aliases bind keys to unprefixed env vars.
// An empty configFilePath yields a viper backed only by env and flags.
func ProvideViperFromFile(envPrefix string, pflags *pflag.FlagSet, configFilePath string, aliases map[string]string) fx.Option {
	return fx.Provide(func() (*viper.Viper, error) {
		v := viper.New()

		v.SetEnvPrefix(envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if err := BindEnvAliases(v, aliases); err != nil {
			return nil, err
		}

		if pflags != nil {
			if err := v.BindPFlags(pflags); err != nil {
				return nil, fmt.Errorf("can't bind flags: %w", err)
			}
		}

		if configFilePath == "" {
			return v, nil
		}
		if err := ResolveAndMergeFile(v, configFilePath); err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}

		return v, nil
	})
}
