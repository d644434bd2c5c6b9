package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

var configFilePath string
var debug bool

// AgentModule represents one stage of the loop run by the agent framework
type AgentModule interface {
	Name() string
	ShortDescription() string
	LongDescription() string
	FxModules() []fx.Option

	// ConfigureCommand Allow agents to configure their commands (add subcommands, custom flags, etc.)
	ConfigureCommand(*cobra.Command)

	// Start is the default action when no subcommand is specified
	Start(ctx context.Context) error
}

// CreateAgentCommand creates a cobra command for an agent module
func CreateAgentCommand(module AgentModule) *cobra.Command {
	cmd := &cobra.Command{
		Use:   module.Name(),
		Short: module.ShortDescription(),
		Long:  module.LongDescription(),
	}

	// Add common flags to persistent flags so they're available to subcommands
	cmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", constants.DefaultConfigFilePath, "path to config file")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")

	module.ConfigureCommand(cmd)

	return cmd
}

// baseModules are shared by every stage.
func baseModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		common.Module,
	}
}

// runModules add the run configuration and the Hub for stages scoped to a
// run id.
func runModules() []fx.Option {
	return append(baseModules(),
		logging.ModuleNamed("hub_logger"),
		runconfig.Module,
		hubsync.Module,
	)
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Logger     *zap.Logger
	Shutdowner fx.Shutdowner
	Metrics    *metrics.Metrics
	Run        *runconfig.Config `optional:"true"`
}

// writeMetrics records the stage outcome to runs/<run_id>/meta/<stage>.prom.
func writeMetrics(p lifecycleParams, module AgentModule, err error) {
	p.Metrics.Finish(err)
	if p.Run == nil {
		return
	}
	path := filepath.Join(p.Run.MetaDir(), module.Name()+".prom")
	if werr := p.Metrics.WriteTextfile(path); werr != nil {
		p.Logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(werr))
	}
}

// runAgentCommand runs a specific command action for an agent
func runAgentCommand(cmd *cobra.Command, module AgentModule, action func(context.Context) error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	config, err := configProvider(cmd)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	options := []fx.Option{
		config,
		fx.Provide(func() *metrics.Metrics { return metrics.NewMetrics(module.Name()) }),
		fx.Provide(fx.Annotate(
			func(l *zap.Logger) logging.Interface { return logging.ForStage(l, module.Name()) },
			fx.ResultTags(`name:"stage_log"`),
		)),
		logging.UseLoggingInterface,
	}

	options = append(options, module.FxModules()...)

	options = append(options, fx.Invoke(func(p lifecycleParams) {
		p.Lifecycle.Append(
			fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						err := action(ctx)
						writeMetrics(p, module, err)
						if err != nil {
							p.Logger.Error(module.Name()+" encountered an error during execution", zap.Error(err))
							os.Exit(1)
						}
						if err := p.Shutdowner.Shutdown(); err != nil {
							p.Logger.Error("Failed to shutdown "+module.Name(), zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
	}))

	app := fx.New(fx.Options(options...))
	app.Run()
	if err := app.Stop(context.Background()); err != nil {
		return
	}
}
