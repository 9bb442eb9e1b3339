package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lineup/internal/config"
	"lineup/internal/registry"
)

func newDiagnosticsCommand(ctx *commandContext) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show skipped-stream diagnostics from the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				diags, err := store.DiagnosticsForRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, diags)
				}
				return renderDiagnostics(cmd, diags)
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier (defaults to the latest run)")
	return cmd
}

func renderDiagnostics(cmd *cobra.Command, diags []registry.StoredDiagnostic) error {
	out := cmd.OutOrStdout()
	if len(diags) == 0 {
		fmt.Fprintln(out, "No diagnostics recorded")
		return nil
	}
	rows := make([][]string, 0, len(diags))
	for _, d := range diags {
		teams := d.Team1
		if d.Team2 != "" {
			teams += " / " + d.Team2
		}
		rows = append(rows, []string{d.StreamID, d.Reason, teams, d.Tier, d.Leagues, d.StreamText})
	}
	headers := []string{"Stream", "Reason", "Teams", "Tier", "Leagues", "Label"}
	fmt.Fprintln(out, renderTable(out, headers, rows, nil))
	return nil
}
