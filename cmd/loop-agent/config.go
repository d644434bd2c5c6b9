package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/pkg/configutils"
	"github.com/sgl-project/ome-loop/pkg/constants"
)

// resolveConfigPath returns the config file to load, or "" to run on
// environment and flags alone. The default path may be absent; an explicit
// --config must exist.
func resolveConfigPath(cli *cobra.Command) (string, error) {
	if _, err := os.Stat(configFilePath); err != nil {
		if cli.Flags().Changed("config") {
			return "", fmt.Errorf("cannot read config file: %w", err)
		}
		return "", nil
	}
	return configFilePath, nil
}

// configProvider provides the viper instance every stage reads from. All of
// the command's flags, inherited ones included, are bound by name.
func configProvider(cli *cobra.Command) (fx.Option, error) {
	path, err := resolveConfigPath(cli)
	if err != nil {
		return nil, err
	}
	return configutils.ProvideViperFromFile(constants.AgentAppName, cli.Flags(), path, nil), nil
}
