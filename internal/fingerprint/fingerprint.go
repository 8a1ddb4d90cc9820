// Package fingerprint derives the content identity of a canonical event.
//
// The canonical form is a sequence of netstrings: a domain tag, the variant
// kind, then every field name and value in the variant's fixed order. It is
// hashed with unkeyed BLAKE2b truncated to 128 bits, so identical events
// hash identically across processes and releases.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/eventerr"
)

const domainTag = "casper-events/fingerprint"

// ErrMismatch is returned by Verify when an envelope's fingerprint does not
// match its event.
var ErrMismatch = errors.New("fingerprint mismatch")

// Canonical returns the bytes that Of hashes.
func Canonical(ev event.Event) ([]byte, error) {
	if ev == nil {
		return nil, eventerr.Internalf("fingerprint of nil event")
	}
	var buf bytes.Buffer
	netstring(&buf, domainTag)
	netstring(&buf, string(ev.Kind()))
	for _, f := range ev.Fields() {
		netstring(&buf, f.Name)
		netstring(&buf, f.Value)
	}
	return buf.Bytes(), nil
}

// Of returns the fingerprint of ev.
func Of(ev event.Event) (event.Fingerprint, error) {
	var fp event.Fingerprint
	data, err := Canonical(ev)
	if err != nil {
		return fp, err
	}
	h, err := blake2b.New(event.FingerprintSize, nil)
	if err != nil {
		return fp, eventerr.Internalf("init hash: %v", err)
	}
	h.Write(data)
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

// Stamp wraps ev in an Envelope carrying its fingerprint.
func Stamp(sequence uint64, ev event.Event, receivedAt time.Time) (event.Envelope, error) {
	fp, err := Of(ev)
	if err != nil {
		return event.Envelope{}, err
	}
	return event.Envelope{Sequence: sequence, Fingerprint: fp, Event: ev, ReceivedAt: receivedAt}, nil
}

// Verify recomputes the fingerprint of env.Event and compares it.
func Verify(env event.Envelope) error {
	fp, err := Of(env.Event)
	if err != nil {
		return err
	}
	if fp != env.Fingerprint {
		return fmt.Errorf("%w: have %s, computed %s", ErrMismatch, env.Fingerprint, fp)
	}
	return nil
}

func netstring(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
	buf.WriteByte(',')
}
