package main

import (
	"fmt"

	"github.com/aretw0/blueprint/pkg/quality"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration",
	Long: `Loads the configuration, compiles every quality rule and builds the stage
graph, reporting the first problem found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := quality.NewGate(cfg.Quality.Config); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		graph, err := stage.NewGraph(stage.DefaultDefinitions(), stage.WithMinLength(cfg.Stage.MinLength))
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d stages, %d output fields.\n",
			len(graph.Definitions()), len(graph.Outputs()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
