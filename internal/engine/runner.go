package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/devblac/casper-events/internal/config"
	"github.com/devblac/casper-events/internal/decoder"
	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/eventerr"
	"github.com/devblac/casper-events/internal/metrics"
	"github.com/devblac/casper-events/internal/sink"
	"github.com/devblac/casper-events/internal/storage"
	"github.com/devblac/casper-events/internal/version"
)

// ErrHalted is returned when a frame fails with a kind listed in halt_on.
var ErrHalted = errors.New("run halted")

// Send statuses recorded per sink delivery.
const (
	sendOK      = "ok"
	sendFailed  = "failed"
	sendDropped = "dropped"
)

// Runner captures one frame stream into the store and forwards matching
// events to sinks.
type Runner struct {
	store    *storage.Store
	dec      *decoder.Decoder
	sourceID string
	haltOn   map[eventerr.Kind]bool
	filters  []filterExec
	sinks    map[string]sink.Sender
	limits   map[string]*TokenBucket
	metrics  *metrics.Metrics
	log      *slog.Logger
	dryRun   bool
	nowFunc  func() time.Time

	hint    version.SchemaVersion
	cursor  uint64
	resumed bool
	last    uint64
	seen    bool
}

type filterExec struct {
	filter config.Filter
	kinds  map[string]struct{}
	preds  []Predicate
}

func (f filterExec) match(args Args) bool {
	if len(f.kinds) > 0 {
		if _, ok := f.kinds[args["kind"]]; !ok {
			return false
		}
	}
	for _, p := range f.preds {
		if !p(args) {
			return false
		}
	}
	return true
}

// NewRunner builds a runner for the provided config, decoder, and sinks.
// m and log may be nil.
func NewRunner(store *storage.Store, cfg *config.Config, dec *decoder.Decoder, sinks map[string]sink.Sender, m *metrics.Metrics, log *slog.Logger, dryRun bool) (*Runner, error) {
	if store == nil || dec == nil {
		return nil, errors.New("store and decoder are required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	filters := make([]filterExec, 0, len(cfg.Filters))
	for _, f := range cfg.Filters {
		preds, err := CompilePredicates(f.Where)
		if err != nil {
			return nil, fmt.Errorf("filter %s predicates: %w", f.ID, err)
		}
		kinds := make(map[string]struct{}, len(f.Kinds))
		for _, k := range f.Kinds {
			kinds[k] = struct{}{}
		}
		filters = append(filters, filterExec{filter: f, kinds: kinds, preds: preds})
	}

	limits := map[string]*TokenBucket{}
	for _, s := range cfg.Sinks {
		if s.RateLimit != nil {
			limits[s.ID] = NewTokenBucket(s.RateLimit.Burst, s.RateLimit.PerSecond)
		}
	}

	return &Runner{
		store:    store,
		dec:      dec,
		sourceID: cfg.SourceID,
		haltOn:   cfg.Decoder.HaltKinds(),
		filters:  filters,
		sinks:    sinks,
		limits:   limits,
		metrics:  m,
		log:      log,
		dryRun:   dryRun,
		nowFunc:  time.Now,
		hint:     cfg.Decoder.Hint(),
	}, nil
}

// Run reads every frame from fr and records the pass as a run. The returned
// run carries the final counters even when err is non-nil.
func (r *Runner) Run(ctx context.Context, fr *FrameReader) (storage.Run, error) {
	if err := r.resume(ctx); err != nil {
		return storage.Run{}, err
	}
	run, err := r.store.StartRun(ctx, r.sourceID, r.nowFunc())
	if err != nil {
		return storage.Run{}, err
	}
	r.log.Info("run started", "run_id", run.ID, "source_id", r.sourceID, "hint", r.hint.String(), "dry_run", r.dryRun)

	runErr := r.consume(ctx, fr, &run)
	run.FinishedAt = r.nowFunc()
	run.Status = storage.RunComplete
	if runErr != nil {
		run.Status = storage.RunHalted
	}
	// The run row is bookkeeping; record it even if the caller's context
	// has been cancelled.
	if err := r.store.FinishRun(context.WithoutCancel(ctx), run); err != nil && runErr == nil {
		runErr = err
	}
	r.log.Info("run finished", "run_id", run.ID, "status", run.Status,
		"frames", run.Frames, "decoded", run.Decoded, "failed", run.Failed,
		"duplicates", run.Duplicates, "forwarded", run.Forwarded)
	return run, runErr
}

func (r *Runner) consume(ctx context.Context, fr *FrameReader, run *storage.Run) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.handleFrame(ctx, f, run); err != nil {
			return err
		}
	}
}

// resume loads the stored cursor and the last announced API version.
func (r *Runner) resume(ctx context.Context) error {
	seq, _, ok, err := r.store.GetCursor(ctx, r.sourceID)
	if err != nil {
		return err
	}
	r.cursor, r.resumed = seq, ok

	recs, err := r.store.ListEvents(ctx, storage.EventQuery{SourceID: r.sourceID, Kind: string(event.KindAPIVersion)})
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		env, err := recs[len(recs)-1].Envelope()
		if err != nil {
			return err
		}
		r.announce(env.Event)
	}
	return nil
}

func (r *Runner) handleFrame(ctx context.Context, f decoder.Frame, run *storage.Run) error {
	run.Frames++
	if r.seen && f.Sequence <= r.last {
		r.log.Warn("sequence regression", "sequence", f.Sequence, "previous", r.last)
	}
	r.last, r.seen = f.Sequence, true

	if r.resumed && f.Sequence <= r.cursor {
		r.log.Debug("frame at or below cursor", "sequence", f.Sequence, "cursor", r.cursor)
		return nil
	}

	f.VersionHint = r.hint
	out, err := r.dec.Decode(f)
	if err != nil {
		run.Failed++
		kind := eventerr.KindOf(err)
		if r.haltOn[kind] {
			return fmt.Errorf("%w: frame %d: %s: %v", ErrHalted, f.Sequence, kind, err)
		}
		r.log.Warn("frame skipped", "sequence", f.Sequence, "kind", kind.String(), "error", err)
		return nil
	}
	run.Decoded++
	r.announce(out.Event)

	rec, err := storage.NewRecord(r.sourceID, out.Version.String(), out.Envelope)
	if err != nil {
		return err
	}
	inserted, err := r.store.SaveEvent(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		run.Duplicates++
		r.metrics.Duplicate()
		r.log.Debug("duplicate event", "sequence", f.Sequence, "fingerprint", rec.Fingerprint)
		return nil
	}

	targets := r.route(ArgsOf(out.Event))
	if r.dryRun {
		if len(targets) > 0 {
			r.log.Info("dry-run match", "sequence", f.Sequence, "kind", rec.Kind, "sinks", targets)
		}
		return nil
	}
	for _, id := range targets {
		if r.forward(ctx, id, out.Envelope) {
			run.Forwarded++
		}
	}
	return nil
}

// announce tracks the stream's API version; later frames use it as their hint.
func (r *Runner) announce(ev event.Event) {
	av, ok := ev.(event.APIVersion)
	if !ok {
		return
	}
	v, err := version.ParseMarker(av.APIVersion)
	if err != nil {
		return
	}
	if v != r.hint {
		r.log.Info("stream api version", "api_version", av.APIVersion, "schema_version", v.String())
	}
	r.hint = v
}

// route returns the sinks of every matching filter, each once, in config order.
func (r *Runner) route(args Args) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, f := range r.filters {
		if !f.match(args) {
			continue
		}
		for _, id := range f.filter.Sinks {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (r *Runner) forward(ctx context.Context, sinkID string, env event.Envelope) bool {
	s := r.sinks[sinkID]
	if s == nil {
		return false
	}
	fp := env.Fingerprint.String()
	if bucket := r.limits[sinkID]; bucket != nil && !bucket.Allow(r.nowFunc()) {
		r.metrics.Dropped()
		r.recordSend(ctx, fp, sinkID, sendDropped)
		r.log.Warn("sink rate limited", "sink", sinkID, "fingerprint", fp)
		return false
	}
	if err := s.Send(ctx, env); err != nil {
		r.recordSend(ctx, fp, sinkID, sendFailed)
		r.log.Error("sink send failed", "sink", sinkID, "fingerprint", fp, "error", err)
		return false
	}
	r.metrics.Forwarded()
	r.recordSend(ctx, fp, sinkID, sendOK)
	return true
}

func (r *Runner) recordSend(ctx context.Context, fp, sinkID, status string) {
	if err := r.store.InsertSend(ctx, fp, sinkID, status); err != nil {
		r.log.Warn("record send", "sink", sinkID, "fingerprint", fp, "error", err)
	}
}
