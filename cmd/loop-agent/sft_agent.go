package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/sft"
)

// SFTAgent turns benchmark predictions into SFT training data.
type SFTAgent struct {
	distiller *sft.Distiller
}

func (s *SFTAgent) Name() string { return "sft" }

func (s *SFTAgent) ShortDescription() string {
	return "Build SFT JSONL from benchmark predictions"
}

func (s *SFTAgent) LongDescription() string {
	return "Strips <think> blocks from every predicted patch in --preds_json and writes one " +
		"{id, instruction, output} row per instance to --out_jsonl."
}

func (s *SFTAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.PersistentFlags().String("preds_json", "", "predictions dictionary (preds.json)")
	cmd.PersistentFlags().String("out_jsonl", "", "output JSONL path")

	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, s, s.Start)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "mirror",
		Short: "Rebuild all-preds.jsonl from a predictions dictionary",
		Run: func(cmd *cobra.Command, args []string) {
			runAgentCommand(cmd, s, s.Mirror)
		},
	})
}

func (s *SFTAgent) FxModules() []fx.Option {
	return append(baseModules(),
		sft.Module,
		fx.Populate(&s.distiller),
	)
}

func (s *SFTAgent) Start(ctx context.Context) error {
	return s.distiller.Start()
}

func (s *SFTAgent) Mirror(ctx context.Context) error {
	return s.distiller.Mirror()
}

func NewSFTAgent() *SFTAgent {
	return &SFTAgent{}
}
