package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/training"
)

// TrainAgent runs the training stage.
type TrainAgent struct {
	trainer *training.Trainer
}

func (t *TrainAgent) Name() string { return "train" }

func (t *TrainAgent) ShortDescription() string {
	return "Fine-tune model A on the distilled SFT data"
}

func (t *TrainAgent) LongDescription() string {
	return "Trains a LoRA adapter on the SFT JSONL, pushing every checkpoint to the checkpoint repo as it is saved, " +
		"then exports the final merged model and points runs/A_final at it."
}

func (t *TrainAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, t, t.Start)
	}
}

func (t *TrainAgent) FxModules() []fx.Option {
	return append(runModules(),
		training.Module,
		fx.Populate(&t.trainer),
	)
}

func (t *TrainAgent) Start(ctx context.Context) error {
	return t.trainer.Start(ctx)
}

func NewTrainAgent() *TrainAgent {
	return &TrainAgent{}
}
