package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/swebench"
)

// SWEAgent runs the benchmark stage.
type SWEAgent struct {
	runner *swebench.Runner
}

func (s *SWEAgent) Name() string { return "swe" }

func (s *SWEAgent) ShortDescription() string {
	return "Run the agent over the SWE-bench mini subset"
}

func (s *SWEAgent) LongDescription() string {
	return "Runs the coding agent on every SWE-bench mini instance not yet predicted, " +
		"uploading preds.json, progress.json and all-preds.jsonl after each one and traces.tgz at the end."
}

func (s *SWEAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, s, s.Start)
	}
}

func (s *SWEAgent) FxModules() []fx.Option {
	return append(runModules(),
		swebench.Module,
		fx.Populate(&s.runner),
	)
}

func (s *SWEAgent) Start(ctx context.Context) error {
	return s.runner.Start(ctx)
}

func NewSWEAgent() *SWEAgent {
	return &SWEAgent{}
}
