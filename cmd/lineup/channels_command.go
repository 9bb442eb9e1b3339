package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lineup/internal/config"
	"lineup/internal/registry"
)

func newChannelsCommand(ctx *commandContext) *cobra.Command {
	var includeDeleted bool

	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List managed channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				var (
					channels []*registry.Channel
					err      error
				)
				if includeDeleted {
					channels, err = store.List(cmd.Context())
				} else {
					channels, err = store.Live(cmd.Context())
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, channels)
				}
				return renderChannels(cmd, store, channels)
			})
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "all", false, "Include soft-deleted channels")
	return cmd
}

func renderChannels(cmd *cobra.Command, store *registry.Store, channels []*registry.Channel) error {
	out := cmd.OutOrStdout()
	if len(channels) == 0 {
		fmt.Fprintln(out, "No managed channels")
		return nil
	}
	rows := make([][]string, 0, len(channels))
	for _, ch := range channels {
		streams, err := store.Streams(cmd.Context(), ch.ID)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			strconv.FormatInt(ch.ID, 10),
			strconv.FormatInt(ch.Number, 10),
			ch.Name,
			ch.League,
			ch.EventStart.Local().Format("Jan 2 15:04"),
			string(ch.Lifecycle),
			strconv.Itoa(len(streams)),
			ch.ExternalID,
		})
	}
	headers := []string{"ID", "Number", "Name", "League", "Start", "State", "Streams", "External"}
	aligns := []columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	fmt.Fprintln(out, renderTable(out, headers, rows, aligns))

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	order := []registry.Lifecycle{
		registry.LifecycleCreated,
		registry.LifecycleInSync,
		registry.LifecycleDrifted,
		registry.LifecycleOrphaned,
		registry.LifecycleError,
		registry.LifecycleDeleted,
	}
	parts := make([]string, 0, len(order))
	for _, lc := range order {
		if n := stats[lc]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", lc, n))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintln(out, strings.Join(parts, ", "))
	}
	return nil
}
