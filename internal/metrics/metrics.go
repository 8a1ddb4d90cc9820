package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devblac/casper-events/internal/eventerr"
)

// Metrics holds Prometheus counters. Counters are atomic and monotonic, so
// one Metrics value may be shared by any number of decoding goroutines.
type Metrics struct {
	decoded      *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	duplicates   prometheus.Counter
	forwarded    prometheus.Counter
	dropped      prometheus.Counter
}

var (
	once           sync.Once
	defaultMetrics *Metrics
)

// New creates counters and registers them with reg. Every error kind is
// exported from the start, at zero.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casper_events_decoded_total",
			Help: "Total number of frames decoded into a canonical event",
		}, []string{"variant", "schema_version"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casper_events_decode_errors_total",
			Help: "Total number of frames rejected, by error kind",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casper_events_duplicates_total",
			Help: "Total number of events skipped because their fingerprint was already stored",
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casper_events_forwarded_total",
			Help: "Total number of events sent to sinks",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casper_events_dropped_total",
			Help: "Total number of events dropped by a sink rate limit",
		}),
	}
	for _, k := range eventerr.Kinds {
		m.decodeErrors.WithLabelValues(k.String())
	}
	for _, c := range []prometheus.Collector{m.decoded, m.decodeErrors, m.duplicates, m.forwarded, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Default returns the process-wide metrics registered with the default
// Prometheus registry. It is created on first call and never replaced.
func Default() *Metrics {
	once.Do(func() {
		m, err := New(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Decoded increments the decoded counter for a variant and schema version.
func (m *Metrics) Decoded(variant, schemaVersion string) {
	if m != nil {
		m.decoded.WithLabelValues(variant, schemaVersion).Inc()
	}
}

// DecodeError increments the error counter for kind.
func (m *Metrics) DecodeError(kind eventerr.Kind) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind.String()).Inc()
	}
}

// ErrorCounter exposes the counter for kind, mainly for tests.
func (m *Metrics) ErrorCounter(kind eventerr.Kind) prometheus.Counter {
	return m.decodeErrors.WithLabelValues(kind.String())
}

// DecodedCounter exposes the decoded counter for a label pair.
func (m *Metrics) DecodedCounter(variant, schemaVersion string) prometheus.Counter {
	return m.decoded.WithLabelValues(variant, schemaVersion)
}

// DuplicateCounter exposes the duplicates counter.
func (m *Metrics) DuplicateCounter() prometheus.Counter { return m.duplicates }

// DroppedCounter exposes the dropped counter.
func (m *Metrics) DroppedCounter() prometheus.Counter { return m.dropped }

// Duplicate increments the duplicates counter.
func (m *Metrics) Duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

// Forwarded increments the forwarded counter.
func (m *Metrics) Forwarded() {
	if m != nil {
		m.forwarded.Inc()
	}
}

// Dropped increments the dropped counter.
func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

// Handler returns an HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler for a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
