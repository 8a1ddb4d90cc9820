package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/devblac/casper-events/internal/classify"
	"github.com/devblac/casper-events/internal/config"
	"github.com/devblac/casper-events/internal/decoder"
	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/eventerr"
	"github.com/devblac/casper-events/internal/metrics"
	"github.com/devblac/casper-events/internal/sink"
	"github.com/devblac/casper-events/internal/storage"
	"github.com/devblac/casper-events/internal/version"
)

type fakeSink struct {
	got []event.Envelope
	err error
}

func (f *fakeSink) Send(ctx context.Context, env event.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, env)
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/db.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig(filters ...config.Filter) *config.Config {
	return &config.Config{
		Version:  1,
		Network:  config.Testnet,
		SourceID: "testnet",
		Filters:  filters,
		Sinks:    []config.Sink{{ID: "s1", Type: "webhook", URL: "http://unused"}},
	}
}

func newRunner(t *testing.T, store *storage.Store, cfg *config.Config, s sink.Sender, dryRun bool) (*Runner, *metrics.Metrics) {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	dec := decoder.New(classify.New(m, nil), decoder.WithRecorder(m))
	r, err := NewRunner(store, cfg, dec, map[string]sink.Sender{"s1": s}, m, nil, dryRun)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	r.nowFunc = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return r, m
}

func blockFrame(height uint64) string {
	h := fmt.Sprintf("%064x", height+1)
	return fmt.Sprintf(`{"BlockAdded":{"block_hash":%q,"block":{"Version2":{"hash":%q,"header":{"height":%d,"era_id":1},"body":{}}}}}`, h, h, height)
}

func stream(lines ...string) *FrameReader {
	return NewFrameReader(strings.NewReader(strings.Join(lines, "\n")))
}

func TestRunnerFiltersAndForwards(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(config.Filter{ID: "tall", Kinds: []string{"BlockAdded"}, Where: []string{"height > 100"}, Sinks: []string{"s1"}})
	s := &fakeSink{}
	runner, m := newRunner(t, store, cfg, s, false)

	run, err := runner.Run(context.Background(), stream(
		`{"ApiVersion":"2.0.0"}`,
		blockFrame(50),
		blockFrame(150),
		`{"Step":{"era_id":1,"execution_effects":[]}}`,
	))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Frames != 4 || run.Decoded != 4 || run.Forwarded != 1 || run.Status != storage.RunComplete {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(s.got) != 1 {
		t.Fatalf("expected 1 send, got %d", len(s.got))
	}
	if b, ok := s.got[0].Event.(event.BlockAdded); !ok || b.Height != 150 {
		t.Fatalf("unexpected forwarded event %#v", s.got[0].Event)
	}
	if got := testutil.ToFloat64(m.DecodedCounter("BlockAdded", "v2")); got != 2 {
		t.Fatalf("expected 2 decoded blocks, got %v", got)
	}

	seq, _, ok, err := store.GetCursor(context.Background(), "testnet")
	if err != nil || !ok || seq != 3 {
		t.Fatalf("cursor = %d ok=%v err=%v", seq, ok, err)
	}
}

func TestRunnerDryRunStoresButDoesNotSend(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(config.Filter{ID: "all", Sinks: []string{"s1"}})
	s := &fakeSink{}
	runner, _ := newRunner(t, store, cfg, s, true)

	run, err := runner.Run(context.Background(), stream(blockFrame(1), blockFrame(2)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(s.got) != 0 || run.Forwarded != 0 {
		t.Fatalf("expected no sends in dry-run, got %d", len(s.got))
	}
	counts, err := store.CountByKind(context.Background(), "testnet")
	if err != nil || counts["BlockAdded"] != 2 {
		t.Fatalf("expected 2 stored blocks, got %v err=%v", counts, err)
	}
}

func TestRunnerSkipsBadFramesUnlessHalting(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig()
	runner, m := newRunner(t, store, cfg, &fakeSink{}, false)

	run, err := runner.Run(context.Background(), stream(`{"Step":`, blockFrame(1)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Failed != 1 || run.Decoded != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	if got := testutil.ToFloat64(m.ErrorCounter(eventerr.KindParse)); got != 1 {
		t.Fatalf("expected one parse error, got %v", got)
	}

	halting := testConfig()
	halting.Decoder.HaltOn = []string{"parse"}
	runner, _ = newRunner(t, newTestStore(t), halting, &fakeSink{}, false)
	run, err = runner.Run(context.Background(), stream(`{"Step":`, blockFrame(1)))
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("expected halt, got %v", err)
	}
	if run.Status != storage.RunHalted || run.Decoded != 0 {
		t.Fatalf("unexpected halted run %+v", run)
	}
}

func TestRunnerUsesAnnouncedVersionAsHint(t *testing.T) {
	store := newTestStore(t)
	runner, _ := newRunner(t, store, testConfig(), &fakeSink{}, false)

	// A bare Step is ambiguous until the stream announces its version.
	run, err := runner.Run(context.Background(), stream(`{"ApiVersion":"1.5.6"}`, `{"Step":{"era_id":9}}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Failed != 0 || run.Decoded != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
	if runner.hint != version.V1 {
		t.Fatalf("expected hint v1, got %s", runner.hint)
	}
	recs, err := store.ListEvents(context.Background(), storage.EventQuery{Kind: "Step"})
	if err != nil || len(recs) != 1 || recs[0].SchemaVersion != "v1" {
		t.Fatalf("unexpected step records %+v err=%v", recs, err)
	}
}

func TestRunnerRateLimitsSinks(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(config.Filter{ID: "all", Sinks: []string{"s1"}})
	cfg.Sinks[0].RateLimit = &config.RateLimit{PerSecond: 1, Burst: 1}
	s := &fakeSink{}
	runner, m := newRunner(t, store, cfg, s, false)

	run, err := runner.Run(context.Background(), stream(blockFrame(1), blockFrame(2), blockFrame(3)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(s.got) != 1 || run.Forwarded != 1 {
		t.Fatalf("expected 1 send within burst, got %d", len(s.got))
	}
	if got := testutil.ToFloat64(m.DroppedCounter()); got != 2 {
		t.Fatalf("expected 2 dropped, got %v", got)
	}
	sends, err := store.CountSends(context.Background())
	if err != nil || sends["ok"] != 1 || sends["dropped"] != 2 {
		t.Fatalf("unexpected sends %v err=%v", sends, err)
	}
}

func TestRunnerRecordsSinkFailures(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(config.Filter{ID: "all", Sinks: []string{"s1"}})
	runner, _ := newRunner(t, store, cfg, &fakeSink{err: errors.New("boom")}, false)

	run, err := runner.Run(context.Background(), stream(blockFrame(1)))
	if err != nil {
		t.Fatalf("sink failures should not stop the run: %v", err)
	}
	if run.Forwarded != 0 {
		t.Fatalf("unexpected forwarded count %d", run.Forwarded)
	}
	sends, err := store.CountSends(context.Background())
	if err != nil || sends["failed"] != 1 {
		t.Fatalf("unexpected sends %v err=%v", sends, err)
	}
}

func TestNewRunnerRejectsBadPredicate(t *testing.T) {
	cfg := testConfig(config.Filter{ID: "bad", Where: []string{"height ~ 1"}, Sinks: []string{"s1"}})
	dec := decoder.New(nil)
	if _, err := NewRunner(newTestStore(t), cfg, dec, nil, nil, nil, false); err == nil {
		t.Fatalf("expected predicate compile error")
	}
}
