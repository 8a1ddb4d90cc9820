package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/config"
	"github.com/devblac/casper-events/internal/storage"
)

var (
	flagKind  string
	flagAfter uint64
	flagLimit int
	flagOut   string
)

func init() {
	exportCmd.Flags().StringVar(&flagKind, "kind", "", "Only export this event kind")
	exportCmd.Flags().Uint64Var(&flagAfter, "after", 0, "Only export events with a higher sequence")
	exportCmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum number of events (0 = all)")
	exportCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Output file (default stdout)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored events as NDJSON envelopes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		recs, err := store.ListEvents(cmd.Context(), storage.EventQuery{
			SourceID: cfg.SourceID,
			Kind:     flagKind,
			After:    flagAfter,
			Limit:    flagLimit,
		})
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if flagOut != "" {
			f, err := os.Create(flagOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		}
		return exportRecords(w, recs)
	},
}

func exportRecords(w io.Writer, recs []storage.Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, rec := range recs {
		env, err := rec.Envelope()
		if err != nil {
			return err
		}
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("encode %s: %w", rec.Fingerprint, err)
		}
	}
	return bw.Flush()
}
