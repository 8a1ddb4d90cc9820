package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/config"
	"github.com/devblac/casper-events/internal/storage"
)

var flagRuns int

func init() {
	stateCmd.Flags().IntVar(&flagRuns, "runs", 5, "Number of recent runs to show")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the cursor, stored event counts and recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		seq, fp, ok, err := store.GetCursor(ctx, cfg.SourceID)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "source %s: cursor %d (%s)\n", cfg.SourceID, seq, fp)
		} else {
			fmt.Fprintf(out, "source %s: no cursor\n", cfg.SourceID)
		}

		counts, err := store.CountByKind(ctx, cfg.SourceID)
		if err != nil {
			return err
		}
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(out, "  %-18s %d\n", k, counts[k])
		}

		sends, err := store.CountSends(ctx)
		if err != nil {
			return err
		}
		if len(sends) > 0 {
			fmt.Fprintf(out, "sends: ok=%d failed=%d dropped=%d\n", sends["ok"], sends["failed"], sends["dropped"])
		}

		runs, err := store.ListRuns(ctx, flagRuns)
		if err != nil {
			return err
		}
		for _, r := range runs {
			took := "-"
			if !r.FinishedAt.IsZero() {
				took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Fprintf(out, "run %s %s %s frames=%d decoded=%d failed=%d dup=%d fwd=%d took=%s\n",
				r.ID, r.StartedAt.Format(time.RFC3339), r.Status, r.Frames, r.Decoded, r.Failed, r.Duplicates, r.Forwarded, took)
		}
		return nil
	},
}
