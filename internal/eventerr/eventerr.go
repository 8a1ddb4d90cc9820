// Package eventerr defines the closed set of errors a frame decode can fail with.
package eventerr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable class of a decode failure.
type Kind int

const (
	KindParse Kind = iota
	KindUnsupportedVersion
	KindValidation
	KindInternal
)

// Kinds lists every error kind in label order.
var Kinds = []Kind{KindParse, KindUnsupportedVersion, KindValidation, KindInternal}

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// ParseKind maps a label back to its Kind.
func ParseKind(label string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == label {
			return k, true
		}
	}
	return 0, false
}

// ParseError reports input that is not a well-formed frame. Offset is the
// byte position of the first invalid byte, or the truncation point.
type ParseError struct {
	Offset  int64
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Message)
}

// UnsupportedVersionError reports a frame whose schema generation cannot be
// determined or is not supported.
type UnsupportedVersionError struct {
	Found  string
	Reason string
}

func (e *UnsupportedVersionError) Error() string {
	if e.Found == "" {
		return "unsupported version: " + e.Reason
	}
	return fmt.Sprintf("unsupported version %q: %s", e.Found, e.Reason)
}

// ValidationError reports a well-formed frame whose content violates a field
// constraint. Field is the path inside the raw frame.
type ValidationError struct {
	Field  string
	Reason string
	Offset int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InternalError reports a broken invariant inside the decoder.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}

// Classified marks an error that has already been counted.
type Classified struct {
	Kind Kind
	Err  error
}

func (e *Classified) Error() string { return e.Err.Error() }

func (e *Classified) Unwrap() error { return e.Err }

// KindOf reports the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	var pe *ParseError
	var ue *UnsupportedVersionError
	var ve *ValidationError
	switch {
	case errors.As(err, &pe):
		return KindParse
	case errors.As(err, &ue):
		return KindUnsupportedVersion
	case errors.As(err, &ve):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsClassified reports whether err has already passed through a classifier.
func IsClassified(err error) bool {
	var c *Classified
	return errors.As(err, &c)
}

// Internalf builds an InternalError.
func Internalf(format string, args ...any) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}
