package event

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devblac/casper-events/internal/eventerr"
)

// FingerprintSize is the length of a content fingerprint in bytes.
const FingerprintSize = 16

// Fingerprint is a fixed-length content identifier of an Event.
type Fingerprint [FingerprintSize]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// IsZero reports whether f is unset.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

func (f Fingerprint) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Fingerprint) UnmarshalText(b []byte) error {
	parsed, err := ParseFingerprint(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFingerprint reads the 32-character lowercase hex form.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	if len(s) != FingerprintSize*2 {
		return f, fmt.Errorf("fingerprint: want %d hex chars, got %d", FingerprintSize*2, len(s))
	}
	if _, err := hex.Decode(f[:], []byte(s)); err != nil {
		return f, fmt.Errorf("fingerprint: %w", err)
	}
	if f.String() != s {
		return Fingerprint{}, errors.New("fingerprint: must be lowercase hex")
	}
	return f, nil
}

// Envelope is a decoded event with its stream metadata. ReceivedAt is
// local reception time; it is volatile and never part of the fingerprint.
type Envelope struct {
	Sequence    uint64
	Fingerprint Fingerprint
	Event       Event
	ReceivedAt  time.Time
}

type envelopeJSON struct {
	Sequence    uint64          `json:"sequence"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	Event       json.RawMessage `json:"event"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	body, err := Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	out := envelopeJSON{Sequence: e.Sequence, Fingerprint: e.Fingerprint, Event: body}
	if !e.ReceivedAt.IsZero() {
		t := e.ReceivedAt.UTC()
		out.ReceivedAt = &t
	}
	return encode(out)
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if len(in.Event) == 0 {
		return &eventerr.ValidationError{Field: "event", Reason: "missing"}
	}
	ev, err := Unmarshal(in.Event)
	if err != nil {
		return err
	}
	*e = Envelope{Sequence: in.Sequence, Fingerprint: in.Fingerprint, Event: ev}
	if in.ReceivedAt != nil {
		e.ReceivedAt = *in.ReceivedAt
	}
	return nil
}

// Marshal renders ev as {"<Kind>": {...}} with a stable key order.
func Marshal(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, eventerr.Internalf("marshal of nil event")
	}
	body, err := encode(ev)
	if err != nil {
		return nil, eventerr.Internalf("marshal %s: %v", ev.Kind(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"`)
	buf.WriteString(string(ev.Kind()))
	buf.WriteString(`":`)
	buf.Write(body)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Unmarshal reads the form produced by Marshal. Unknown members are
// rejected and the result is validated.
func Unmarshal(b []byte) (Event, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(b, &outer); err != nil {
		var unit string
		if json.Unmarshal(b, &unit) == nil && unit == string(KindShutdown) {
			return Shutdown{}, nil
		}
		var se *json.SyntaxError
		if errors.As(err, &se) {
			return nil, &eventerr.ParseError{Offset: se.Offset, Message: se.Error()}
		}
		return nil, &eventerr.ValidationError{Field: "event", Reason: err.Error()}
	}
	if len(outer) != 1 {
		return nil, &eventerr.ValidationError{Field: "event", Reason: fmt.Sprintf("want exactly one variant, got %d", len(outer))}
	}
	for name, body := range outer {
		return decodeVariant(Kind(name), body)
	}
	return nil, eventerr.Internalf("unreachable")
}

func decodeVariant(kind Kind, body json.RawMessage) (Event, error) {
	switch kind {
	case KindAPIVersion:
		return strict[APIVersion](body)
	case KindBlockAdded:
		return strict[BlockAdded](body)
	case KindDeployAccepted:
		return strict[DeployAccepted](body)
	case KindDeployProcessed:
		return strict[DeployProcessed](body)
	case KindDeployExpired:
		return strict[DeployExpired](body)
	case KindFault:
		return strict[Fault](body)
	case KindFinalitySignature:
		return strict[FinalitySignature](body)
	case KindStep:
		return strict[Step](body)
	case KindShutdown:
		return strict[Shutdown](body)
	case KindUnknown:
		return strict[Unknown](body)
	default:
		return nil, &eventerr.ValidationError{Field: "event", Reason: fmt.Sprintf("unknown variant %q", kind)}
	}
}

func strict[T Event](body json.RawMessage) (Event, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, &eventerr.ValidationError{Field: string(v.Kind()), Reason: err.Error()}
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func (e Unknown) MarshalJSON() ([]byte, error) {
	out := struct {
		RawKind string          `json:"raw_kind"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{RawKind: e.RawKind}
	if e.Payload != "" {
		out.Payload = json.RawMessage(e.Payload)
	}
	return encode(out)
}

func (e *Unknown) UnmarshalJSON(b []byte) error {
	var in struct {
		RawKind string          `json:"raw_kind"`
		Payload json.RawMessage `json:"payload"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return err
	}
	e.RawKind = in.RawKind
	e.Payload = ""
	if len(in.Payload) > 0 {
		p, err := NormalizePayload(string(in.Payload))
		if err != nil {
			return err
		}
		e.Payload = p
	}
	return nil
}

// encode is json.Marshal without HTML escaping so canonical payloads
// survive unchanged.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
