package main

import (
	"context"
	"fmt"

	"github.com/aretw0/blueprint/internal/presentation/graph"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the stage graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the planning stages. With --session,
completed stages and the current stage of that session are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(stage.Default(stage.WithMinLength(cfg.Stage.MinLength)), nil))
			return nil
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			snap, err := a.engine.Snapshot(ctx, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(a.engine.Graph(), graph.OverlayFor(snap)))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the progress of this session")
}
