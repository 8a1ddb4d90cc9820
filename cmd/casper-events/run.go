package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/casper-events/internal/classify"
	"github.com/devblac/casper-events/internal/config"
	"github.com/devblac/casper-events/internal/decoder"
	"github.com/devblac/casper-events/internal/engine"
	"github.com/devblac/casper-events/internal/health"
	"github.com/devblac/casper-events/internal/logging"
	"github.com/devblac/casper-events/internal/metrics"
	"github.com/devblac/casper-events/internal/sink"
	"github.com/devblac/casper-events/internal/storage"
)

var (
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send to sinks")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Capture a frame stream into the store and forward matches to sinks",
	Long: "Reads SSE or NDJSON frames from a file or stdin until EOF, for example\n" +
		"  curl -sN http://node:9999/events | casper-events run -",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logging.NewWithLevel(cfg.LogLevel)

		store, err := storage.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		sinks, err := buildSinks(cfg.Sinks)
		if err != nil {
			return err
		}

		mtr := metrics.Default()
		dec := decoder.New(classify.New(mtr, log),
			decoder.WithRecorder(mtr),
			decoder.WithMaxFrameBytes(cfg.Decoder.MaxFrameBytes),
			decoder.WithClock(time.Now),
		)

		if flagHealth != "" {
			healthSrv := health.Serve(flagHealth, health.Checker{"db": store.Ping})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
			log.Info("metrics enabled", "addr", flagMetrics)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		runner, err := engine.NewRunner(store, cfg, dec, sinks, mtr, log, flagDryRun)
		if err != nil {
			return err
		}

		in, err := openInput(cmd, args)
		if err != nil {
			return err
		}
		defer in.Close()

		run, err := runner.Run(ctx, engine.NewFrameReader(in))
		if err != nil {
			log.Error("run error", "run_id", run.ID, "error", err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d frames, %d decoded, %d failed, %d duplicates, %d forwarded\n",
			run.ID, run.Frames, run.Decoded, run.Failed, run.Duplicates, run.Forwarded)
		return nil
	},
}

func buildSinks(cfgs []config.Sink) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, s := range cfgs {
		var (
			sender sink.Sender
			err    error
		)
		switch s.Type {
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		sinks[s.ID] = sender
	}
	return sinks, nil
}
