// Package decoder runs the full frame pipeline: parse, detect version,
// adapt, fingerprint. Every failure leaves through the classifier.
package decoder

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devblac/casper-events/internal/adapter"
	"github.com/devblac/casper-events/internal/classify"
	"github.com/devblac/casper-events/internal/envelope"
	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/eventerr"
	"github.com/devblac/casper-events/internal/fingerprint"
	"github.com/devblac/casper-events/internal/version"
)

// Frame is one raw event as delivered by the stream.
type Frame struct {
	Data     []byte
	Sequence uint64
	// VersionHint is the generation last announced on the stream, if any.
	VersionHint version.SchemaVersion
	ReceivedAt  time.Time
}

// Decoded is a successfully normalized frame.
type Decoded struct {
	event.Envelope
	Version version.SchemaVersion
	Source  version.Source
}

// SuccessRecorder counts decoded events.
type SuccessRecorder interface {
	Decoded(variant, schemaVersion string)
}

// Decoder is immutable after New and safe for concurrent use.
type Decoder struct {
	classifier    *classify.Classifier
	rec           SuccessRecorder
	maxFrameBytes int
	defaultHint   version.SchemaVersion
	now           func() time.Time
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxFrameBytes rejects frames larger than n bytes. Zero disables the limit.
func WithMaxFrameBytes(n int) Option {
	return func(d *Decoder) { d.maxFrameBytes = n }
}

// WithDefaultHint is used when a frame carries no hint of its own.
func WithDefaultHint(v version.SchemaVersion) Option {
	return func(d *Decoder) { d.defaultHint = v }
}

// WithClock stamps frames that arrive without a reception time.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// WithRecorder counts successful decodes.
func WithRecorder(rec SuccessRecorder) Option {
	return func(d *Decoder) { d.rec = rec }
}

// New builds a decoder. A nil classifier counts nothing.
func New(c *classify.Classifier, opts ...Option) *Decoder {
	if c == nil {
		c = classify.New(nil, nil)
	}
	d := &Decoder{classifier: c}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode normalizes one frame. The returned error, if any, is classified
// and already counted.
func (d *Decoder) Decode(f Frame) (out Decoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Decoded{}
			err = d.classifier.Classify(eventerr.Internalf("panic during decode: %v", r))
		}
	}()

	out, err = d.decode(f)
	if err != nil {
		return Decoded{}, d.classifier.Classify(err)
	}
	if d.rec != nil {
		d.rec.Decoded(string(out.Event.Kind()), out.Version.String())
	}
	return out, nil
}

func (d *Decoder) decode(f Frame) (Decoded, error) {
	if d.maxFrameBytes > 0 && len(f.Data) > d.maxFrameBytes {
		return Decoded{}, &eventerr.ParseError{
			Offset:  int64(d.maxFrameBytes),
			Message: fmt.Sprintf("frame of %d bytes exceeds limit of %d", len(f.Data), d.maxFrameBytes),
		}
	}
	raw, err := envelope.Parse(f.Data)
	if err != nil {
		return Decoded{}, err
	}

	hint := f.VersionHint
	if !hint.Valid() {
		hint = d.defaultHint
	}
	det, err := version.Detect(raw, hint)
	if err != nil {
		return Decoded{}, err
	}
	ev, err := adapter.Adapt(raw, det.Version)
	if err != nil {
		return Decoded{}, err
	}

	receivedAt := f.ReceivedAt
	if receivedAt.IsZero() && d.now != nil {
		receivedAt = d.now()
	}
	env, err := fingerprint.Stamp(f.Sequence, ev, receivedAt)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Envelope: env, Version: det.Version, Source: det.Source}, nil
}

// DecodeAll decodes frames on up to workers goroutines. out[i] and errs[i]
// belong to frames[i]; errs is nil when every frame decoded.
func (d *Decoder) DecodeAll(frames []Frame, workers int) ([]Decoded, []error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]Decoded, len(frames))
	errs := make([]error, len(frames))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range frames {
		i := i
		g.Go(func() error {
			out[i], errs[i] = d.Decode(frames[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return out, errs
		}
	}
	return out, nil
}
