package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgl-project/ome-loop/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "loop-agent",
	Short:   "Run the self-improvement loop",
	Long:    "loop-agent drives one stage of the benchmark, distill, train and merge loop, keeping every artifact resumable on the Hugging Face Hub.",
	Version: version.String(),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Register all stage commands
	rootCmd.AddCommand(CreateAgentCommand(NewSWEAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewSFTAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewTrainAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewMergeAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewSnapshotAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewServingAgent()))
}
