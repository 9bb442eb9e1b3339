package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lineup/internal/config"
	"lineup/internal/registry"
	"lineup/internal/run"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var streamsPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve catalog streams and update managed channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				runner, err := run.FromConfig(cfg, store, run.NewFileCatalog(streamsPath), logger)
				if err != nil {
					return err
				}
				summary, err := runner.Execute(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				return renderSummary(cmd, summary)
			})
		},
	}

	cmd.Flags().StringVarP(&streamsPath, "streams", "s", "", "Path to the stream catalog JSON file")
	_ = cmd.MarkFlagRequired("streams")
	return cmd
}

func renderSummary(cmd *cobra.Command, summary *run.Summary) error {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Run", summary.RunID},
		{"Streams", strconv.Itoa(summary.Streams)},
		{"Matched", strconv.Itoa(summary.Matched)},
		{"Skipped", strconv.Itoa(summary.Skipped)},
		{"Errors", strconv.Itoa(summary.Errors)},
		{"Channels created", strconv.Itoa(summary.Created)},
		{"Streams attached", strconv.Itoa(summary.Attached)},
		{"Channels deleted", strconv.Itoa(summary.Deleted)},
		{"Findings (before)", strconv.Itoa(len(summary.FindingsBefore))},
		{"Findings (after)", strconv.Itoa(len(summary.FindingsAfter))},
	}
	fmt.Fprintln(out, renderTable(out, []string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(summary.Diagnostics) > 0 {
		diagRows := make([][]string, 0, len(summary.Diagnostics))
		for _, d := range summary.Diagnostics {
			diagRows = append(diagRows, []string{d.StreamID, string(d.Reason), d.StreamText})
		}
		fmt.Fprintln(out, renderTable(out, []string{"Stream", "Reason", "Label"}, diagRows, nil))
	}
	return nil
}
