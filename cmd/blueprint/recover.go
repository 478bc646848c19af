package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Validate and repair every stored session",
	Long: `Runs the startup migration over the local store: records that can be
repaired are rewritten, records beyond repair are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.engine.Recover(ctx)
			if err != nil {
				return fmt.Errorf("recovery aborted: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "Scanned %d, valid %d, repaired %d, removed %d\n",
				report.Scanned, report.Valid, report.Migrated, report.Removed)
			repaired := make([]string, 0, len(report.Repairs))
			for id := range report.Repairs {
				repaired = append(repaired, id)
			}
			sort.Strings(repaired)
			for _, id := range repaired {
				fmt.Fprintf(out, "repaired %s:\n", id)
				for _, w := range report.Repairs[id] {
					fmt.Fprintf(out, "  - %s\n", w)
				}
			}
			for _, id := range report.RemovedIDs() {
				fmt.Fprintf(out, "removed %s:\n", id)
				for _, r := range report.Reasons[id] {
					fmt.Fprintf(out, "  - %s\n", r)
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().Bool("json", false, "Print the report as JSON")
}
