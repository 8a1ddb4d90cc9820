package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/config"
	"github.com/devblac/casper-events/internal/engine"
	"github.com/devblac/casper-events/internal/storage"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, filter expressions and the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, network %s, chain %s)\n", cfg.Version, cfg.Network, cfg.Network.ChainName())

		failures := 0
		for _, f := range cfg.Filters {
			if _, err := engine.CompilePredicates(f.Where); err != nil {
				failures++
				fmt.Fprintf(out, "- filter %s: ERROR %v\n", f.ID, err)
				continue
			}
			fmt.Fprintf(out, "- filter %s: OK\n", f.ID)
		}

		store, err := storage.Open(cfg.Storage.DBPath)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- store %s: ERROR %v\n", cfg.Storage.DBPath, err)
		} else {
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				failures++
				fmt.Fprintf(out, "- store %s: ERROR %v\n", cfg.Storage.DBPath, err)
			} else {
				fmt.Fprintf(out, "- store %s: OK\n", cfg.Storage.DBPath)
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
