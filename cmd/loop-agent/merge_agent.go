package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/merge"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

// MergeAgent runs the merge stage.
type MergeAgent struct {
	merger *merge.Merger
}

func (m *MergeAgent) Name() string { return "merge" }

func (m *MergeAgent) ShortDescription() string {
	return "Merge A_final into model B with mergekit"
}

func (m *MergeAgent) LongDescription() string {
	return "Renders conf/mk_apply_template.yml with the absolute path of runs/A_final and runs mergekit into runs/<run_id>/B_new."
}

func (m *MergeAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, m, m.Start)
	}
}

func (m *MergeAgent) FxModules() []fx.Option {
	return append(baseModules(),
		runconfig.Module,
		merge.Module,
		fx.Populate(&m.merger),
	)
}

func (m *MergeAgent) Start(ctx context.Context) error {
	return m.merger.Start(ctx)
}

func NewMergeAgent() *MergeAgent {
	return &MergeAgent{}
}
