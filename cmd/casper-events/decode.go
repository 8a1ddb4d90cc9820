package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/devblac/casper-events/internal/classify"
	"github.com/devblac/casper-events/internal/decoder"
	"github.com/devblac/casper-events/internal/engine"
	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/logging"
	"github.com/devblac/casper-events/internal/metrics"
	"github.com/devblac/casper-events/internal/version"
)

var (
	flagHint          string
	flagWorkers       int
	flagMaxFrameBytes int
	flagCheckContract bool
	flagPretty        bool
	flagStrict        bool
)

func init() {
	decodeCmd.Flags().StringVar(&flagHint, "hint", "", "Schema version to assume before the first ApiVersion frame (v1, v2 or semver)")
	decodeCmd.Flags().IntVar(&flagWorkers, "workers", 4, "Frames decoded concurrently")
	decodeCmd.Flags().IntVar(&flagMaxFrameBytes, "max-frame-bytes", 0, "Reject frames larger than this (0 = no limit)")
	decodeCmd.Flags().BoolVar(&flagCheckContract, "check-contract", false, "Check every output line against the envelope JSON Schema")
	decodeCmd.Flags().BoolVar(&flagPretty, "pretty", false, "Indent output")
	decodeCmd.Flags().BoolVar(&flagStrict, "strict", false, "Exit non-zero if any frame fails")
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file|-]",
	Short: "Decode captured SSE or NDJSON frames into canonical envelopes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hint, err := version.ParseHint(flagHint)
		if err != nil {
			return err
		}
		in, err := openInput(cmd, args)
		if err != nil {
			return err
		}
		defer in.Close()

		frames, err := engine.ReadAll(in)
		if err != nil {
			return err
		}
		engine.AssignHints(frames, hint)

		log := logging.NewWithLevel(os.Getenv("LOG_LEVEL"))
		m, err := metrics.New(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		dec := decoder.New(classify.New(m, log),
			decoder.WithRecorder(m),
			decoder.WithMaxFrameBytes(flagMaxFrameBytes),
		)

		out, errs := dec.DecodeAll(frames, flagWorkers)
		failed, err := writeDecoded(cmd.OutOrStdout(), out, errs, decodeOutput{pretty: flagPretty, checkContract: flagCheckContract})
		if err != nil {
			return err
		}
		for i, e := range errs {
			if e != nil {
				log.Warn("frame rejected", "sequence", frames[i].Sequence, "error", e)
			}
		}
		log.Info("decode complete", "frames", len(frames), "decoded", len(frames)-failed, "failed", failed)
		if flagStrict && failed > 0 {
			return fmt.Errorf("decode: %d of %d frame(s) failed", failed, len(frames))
		}
		return nil
	},
}

type decodeOutput struct {
	pretty        bool
	checkContract bool
}

// writeDecoded prints one envelope per successful frame, in frame order, and
// returns the number of failed frames.
func writeDecoded(w io.Writer, out []decoder.Decoded, errs []error, opts decodeOutput) (int, error) {
	bw := bufio.NewWriter(w)
	failed := 0
	for i := range out {
		if errs != nil && errs[i] != nil {
			failed++
			continue
		}
		b, err := json.Marshal(out[i].Envelope)
		if err != nil {
			return failed, fmt.Errorf("frame %d: %w", out[i].Sequence, err)
		}
		if opts.checkContract {
			if err := event.CheckContract(b); err != nil {
				return failed, fmt.Errorf("frame %d: %w", out[i].Sequence, err)
			}
		}
		if opts.pretty {
			b = pretty.Pretty(b)
		} else {
			b = append(b, '\n')
		}
		if _, err := bw.Write(b); err != nil {
			return failed, err
		}
	}
	return failed, bw.Flush()
}
