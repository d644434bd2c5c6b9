package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/snapshot"
)

// SnapshotAgent archives the code or the logs of a run to the Hub.
type SnapshotAgent struct {
	snapshotter *snapshot.Snapshotter
}

func (s *SnapshotAgent) Name() string { return "snapshot" }

func (s *SnapshotAgent) ShortDescription() string {
	return "Upload a code or logs snapshot of the run"
}

func (s *SnapshotAgent) LongDescription() string {
	return "code archives env, conf, slurm, bin and pipeline to the code dataset; " +
		"logs archives logs and the trainer logs to the logs dataset."
}

func (s *SnapshotAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.AddCommand(&cobra.Command{
		Use:   "code",
		Short: "Upload a code snapshot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runAgentCommand(cmd, s, s.Start)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "logs",
		Short: "Upload a logs snapshot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runAgentCommand(cmd, s, s.Logs)
		},
	})
}

func (s *SnapshotAgent) FxModules() []fx.Option {
	return append(runModules(),
		snapshot.Module,
		fx.Populate(&s.snapshotter),
	)
}

// Start uploads the code snapshot.
func (s *SnapshotAgent) Start(ctx context.Context) error {
	_, err := s.snapshotter.Code(ctx)
	return err
}

func (s *SnapshotAgent) Logs(ctx context.Context) error {
	_, err := s.snapshotter.Logs(ctx)
	return err
}

func NewSnapshotAgent() *SnapshotAgent {
	return &SnapshotAgent{}
}
