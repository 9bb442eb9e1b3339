package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lineup/internal/chanman"
	"lineup/internal/config"
	"lineup/internal/reconcile"
	"lineup/internal/registry"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Detect and repair drift against the external channel system",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				engine := reconcile.New(store, chanman.New(cfg), cfg, logger)
				findings, err := engine.Run(cmd.Context(), dryRun)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, findings)
				}
				return renderFindings(cmd, findings, dryRun)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report findings without applying fixes")
	return cmd
}

func renderFindings(cmd *cobra.Command, findings []reconcile.Finding, dryRun bool) error {
	out := cmd.OutOrStdout()
	if len(findings) == 0 {
		fmt.Fprintln(out, "No inconsistencies found")
		return nil
	}
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		channel := ""
		if f.ChannelID != 0 {
			channel = strconv.FormatInt(f.ChannelID, 10)
		}
		status := "reported"
		if f.Fixed {
			status = "fixed"
		} else if dryRun {
			status = "pending"
		}
		rows = append(rows, []string{string(f.Category), channel, f.ExternalID, status, f.Detail})
	}
	fmt.Fprintln(out, renderTable(out, []string{"Category", "Channel", "External", "Status", "Detail"}, rows, nil))
	return nil
}
