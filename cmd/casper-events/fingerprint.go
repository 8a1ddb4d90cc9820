package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/decoder"
	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/fingerprint"
	"github.com/devblac/casper-events/internal/version"
)

var flagCanonical bool

func init() {
	fingerprintCmd.Flags().BoolVar(&flagCanonical, "canonical", false, "Input lines are canonical event JSON instead of raw frames")
	fingerprintCmd.Flags().StringVar(&flagHint, "hint", "", "Schema version for ambiguous raw frames")
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [file|-]",
	Short: "Print the content fingerprint of each input line",
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

		dec := decoder.New(nil, decoder.WithDefaultHint(hint))
		out := cmd.OutOrStdout()
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			ev, err := lineEvent(dec, []byte(text))
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			fp, err := fingerprint.Of(ev)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			fmt.Fprintf(out, "%s %s\n", fp, ev.Kind())
		}
		return sc.Err()
	},
}

func lineEvent(dec *decoder.Decoder, b []byte) (event.Event, error) {
	if flagCanonical {
		return event.Unmarshal(b)
	}
	d, err := dec.Decode(decoder.Frame{Data: b})
	if err != nil {
		return nil, err
	}
	return d.Event, nil
}
