package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/serving"
	"github.com/sgl-project/ome-loop/pkg/constants"
)

// ServingAgent manages the local model server
type ServingAgent struct {
	server *serving.Server
	port   int
}

func (s *ServingAgent) Name() string { return "serving" }

func (s *ServingAgent) ShortDescription() string {
	return "Wait for or stop the local model server"
}

func (s *ServingAgent) LongDescription() string {
	return "wait-ready polls /v1/models until the server answers; kill-port kills whatever listens on a port."
}

// parsePort reads the optional port argument.
func parsePort(args []string) (int, error) {
	if len(args) == 0 {
		return constants.DefaultServingPort, nil
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", args[0])
	}
	return port, nil
}

func (s *ServingAgent) ConfigureCommand(cmd *cobra.Command) {
	wait := &cobra.Command{
		Use:   "wait-ready",
		Short: "Wait until the model server answers /v1/models",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runAgentCommand(cmd, s, s.Start)
		},
	}
	wait.Flags().IntVar(&s.port, "port", constants.DefaultServingPort, "server port")
	cmd.AddCommand(wait)

	cmd.AddCommand(&cobra.Command{
		Use:   "kill-port [port]",
		Short: "Kill every process listening on a port",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args)
			if err != nil {
				return err
			}
			s.port = port
			runAgentCommand(cmd, s, s.KillPort)
			return nil
		},
	})
}

func (s *ServingAgent) FxModules() []fx.Option {
	return append(baseModules(),
		serving.Module,
		fx.Populate(&s.server),
	)
}

// Start waits for the server to become ready.
func (s *ServingAgent) Start(ctx context.Context) error {
	return s.server.WaitReady(ctx, s.port)
}

func (s *ServingAgent) KillPort(ctx context.Context) error {
	_, err := s.server.KillPort(ctx, s.port)
	return err
}

func NewServingAgent() *ServingAgent {
	return &ServingAgent{port: constants.DefaultServingPort}
}
