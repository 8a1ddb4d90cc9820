// Package adapter maps a parsed frame to the canonical event model using
// one fixed field table per schema version.
package adapter

import (
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/devblac/casper-events/internal/envelope"
	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/eventerr"
	"github.com/devblac/casper-events/internal/version"
)

// rule builds one canonical variant from a frame body.
type rule func(r *reader) event.Event

// table maps a raw event kind to its rule.
type table map[string]rule

// tables is indexed by SchemaVersion. It is built on first use and never
// written afterwards, so concurrent decodes share it freely.
var tables = sync.OnceValue(func() [version.Count + 1]table {
	var t [version.Count + 1]table
	t[version.V1] = v1Table()
	t[version.V2] = v2Table()
	return t
})

// Adapt produces the canonical event for raw under schema version v. Kinds
// the version's table does not list become event.Unknown.
func Adapt(raw *envelope.Raw, v version.SchemaVersion) (event.Event, error) {
	if !v.Valid() {
		return nil, eventerr.Internalf("no adapter for schema version %d", v)
	}
	t := tables()[v]
	if t == nil {
		return nil, eventerr.Internalf("adapter table for %s is empty", v)
	}
	kind, _, err := raw.Kind()
	if err != nil {
		return nil, &eventerr.UnsupportedVersionError{Reason: err.Error()}
	}

	r := &reader{raw: raw, kind: kind, body: raw.Get(kind)}
	var ev event.Event
	if build, ok := t[kind]; ok {
		ev = build(r)
	} else {
		ev = unknown(r)
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Kinds lists the raw kinds that version v maps to a known variant.
func Kinds(v version.SchemaVersion) []string {
	if !v.Valid() {
		return nil
	}
	out := make([]string, 0, len(tables()[v]))
	for k := range tables()[v] {
		out = append(out, k)
	}
	return out
}

func unknown(r *reader) event.Event {
	ev := event.Unknown{RawKind: r.kind}
	if r.body.Exists() {
		payload, err := event.NormalizePayload(r.body.Raw)
		if err != nil {
			r.fail("", r.body, err.Error())
			return ev
		}
		ev.Payload = payload
	}
	return ev
}

// reader pulls typed fields out of one frame and keeps the first failure.
// Paths are relative to the kind's body; the empty path is the body itself.
type reader struct {
	raw  *envelope.Raw
	kind string
	body gjson.Result
	err  error
}

func (r *reader) full(path string) string {
	if path == "" {
		return r.kind
	}
	return r.kind + "." + path
}

// get returns the first candidate that is present and not null.
func (r *reader) get(paths []string) (gjson.Result, string) {
	for _, p := range paths {
		res := r.raw.Get(r.full(p))
		if res.Exists() && res.Type != gjson.Null {
			return res, p
		}
	}
	if len(paths) == 0 {
		return gjson.Result{}, ""
	}
	return gjson.Result{}, paths[0]
}

func (r *reader) fail(path string, res gjson.Result, reason string) {
	if r.err != nil {
		return
	}
	off := int64(res.Index)
	if !res.Exists() {
		off = int64(r.body.Index)
	}
	r.err = &eventerr.ValidationError{Field: r.full(path), Reason: reason, Offset: off}
}

func (r *reader) text(paths []string, required bool, norm func(string) (string, error)) string {
	res, path := r.get(paths)
	if !res.Exists() {
		if required {
			r.fail(path, res, "missing")
		}
		return ""
	}
	if res.Type != gjson.String {
		r.fail(path, res, "want string, got "+strings.ToLower(res.Type.String()))
		return ""
	}
	if norm == nil {
		return res.Str
	}
	v, err := norm(res.Str)
	if err != nil {
		r.fail(path, res, err.Error())
		return ""
	}
	return v
}

func (r *reader) uint(paths []string) uint64 {
	res, path := r.get(paths)
	if !res.Exists() {
		r.fail(path, res, "missing")
		return 0
	}
	if res.Type != gjson.Number || strings.TrimLeft(res.Raw, "0123456789") != "" {
		r.fail(path, res, "want non-negative integer, got "+res.Raw)
		return 0
	}
	n, err := strconv.ParseUint(res.Raw, 10, 64)
	if err != nil {
		r.fail(path, res, "out of range: "+res.Raw)
		return 0
	}
	return n
}

// object returns the first candidate holding a JSON object.
func (r *reader) object(paths []string) (string, bool) {
	for _, p := range paths {
		if r.raw.Get(r.full(p)).IsObject() {
			return p, true
		}
	}
	return "", false
}
