package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bouquet-visualizer",
		Short: "Render bouquet orders into preview images",
		Long: `bouquet-visualizer turns a bouquet order (flowers, foliage, paper, ribbon) into a
deterministic prompt, renders it with a generative image model and stores the result.
When the model is unavailable or fails, a placeholder image is stored instead.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newVisualizeCmd(),
		newBatchCmd(),
	)

	return cmd
}
