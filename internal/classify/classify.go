// Package classify maps every decode failure onto the closed error taxonomy
// and counts it exactly once.
package classify

import (
	"errors"
	"io"
	"log/slog"

	"github.com/devblac/casper-events/internal/eventerr"
)

// Recorder receives one increment per classified error.
type Recorder interface {
	DecodeError(kind eventerr.Kind)
}

// Classifier is safe for concurrent use when its Recorder is.
type Classifier struct {
	rec Recorder
	log *slog.Logger
}

// New builds a classifier. A nil recorder disables counting and a nil
// logger discards internal-error reports.
func New(rec Recorder, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Classifier{rec: rec, log: log}
}

// Classify returns err as an *eventerr.Classified. Errors outside the
// taxonomy become InternalError. An error that is already classified is
// returned unchanged and not counted again.
func (c *Classifier) Classify(err error) error {
	if err == nil || eventerr.IsClassified(err) {
		return err
	}
	kind := eventerr.KindOf(err)
	if kind == eventerr.KindInternal {
		var ie *eventerr.InternalError
		if !errors.As(err, &ie) {
			err = &eventerr.InternalError{Message: err.Error()}
		}
		c.log.Error("decoder invariant violated", "error", err)
	}
	if c.rec != nil {
		c.rec.DecodeError(kind)
	}
	return &eventerr.Classified{Kind: kind, Err: err}
}
