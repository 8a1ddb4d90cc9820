// Package envelope turns raw frame bytes into a generic JSON tree without
// interpreting any event semantics.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/devblac/casper-events/internal/eventerr"
)

// Shape is the JSON type of the frame's top-level value.
type Shape int

const (
	ShapeOther Shape = iota
	ShapeObject
	ShapeString
)

var (
	// ErrNoKind is returned by Kind when the frame names no event kind.
	ErrNoKind = errors.New("no event kind key")
	// ErrAmbiguousKind is returned by Kind when more than one key looks like a kind.
	ErrAmbiguousKind = errors.New("more than one event kind key")

	kindPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
)

// recognized are the event kinds casper-node emits on its 1.x and 2.x SSE
// streams. When a frame carries several PascalCase keys, the one recognized
// kind among them wins.
var recognized = map[string]struct{}{
	"ApiVersion":           {},
	"BlockAdded":           {},
	"DeployAccepted":       {},
	"DeployProcessed":      {},
	"DeployExpired":        {},
	"TransactionAccepted":  {},
	"TransactionProcessed": {},
	"TransactionExpired":   {},
	"Fault":                {},
	"FinalitySignature":    {},
	"Step":                 {},
	"Shutdown":             {},
}

// Recognized reports whether name is an event kind the node is known to emit.
func Recognized(name string) bool {
	_, ok := recognized[name]
	return ok
}

// Field is one top-level member of an object frame, in document order.
type Field struct {
	Name  string
	Value gjson.Result
}

// Raw is a parsed frame. Unknown members are kept as-is.
type Raw struct {
	Data   []byte
	Shape  Shape
	Fields []Field
	root   gjson.Result
}

// Parse validates data as a single JSON value and indexes its top level.
func Parse(data []byte) (*Raw, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &eventerr.ParseError{Offset: int64(len(data)), Message: "empty frame"}
	}

	var doc json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, syntaxError(data, err)
	}
	if off, ok := invalidUTF8(data); ok {
		return nil, &eventerr.ParseError{Offset: off, Message: "invalid UTF-8"}
	}

	root := gjson.ParseBytes(data)
	raw := &Raw{Data: data, root: root}
	switch {
	case root.IsObject():
		raw.Shape = ShapeObject
		root.ForEach(func(key, value gjson.Result) bool {
			raw.Fields = append(raw.Fields, Field{Name: key.String(), Value: value})
			return true
		})
	case root.Type == gjson.String:
		raw.Shape = ShapeString
	default:
		raw.Shape = ShapeOther
	}
	return raw, nil
}

// Kind returns the event kind named by the frame and its body. Unit kinds
// arrive as a bare string and have a non-existent body.
func (r *Raw) Kind() (string, gjson.Result, error) {
	switch r.Shape {
	case ShapeString:
		name := r.root.String()
		if !kindPattern.MatchString(name) {
			return "", gjson.Result{}, fmt.Errorf("%w: string %q is not an event name", ErrNoKind, name)
		}
		return name, gjson.Result{}, nil
	case ShapeObject:
		var found []Field
		for _, f := range r.Fields {
			if kindPattern.MatchString(f.Name) {
				found = append(found, f)
			}
		}
		if len(found) > 1 {
			var known []Field
			for _, f := range found {
				if Recognized(f.Name) {
					known = append(known, f)
				}
			}
			if len(known) == 1 {
				found = known
			}
		}
		switch len(found) {
		case 0:
			return "", gjson.Result{}, ErrNoKind
		case 1:
			return found[0].Name, found[0].Value, nil
		default:
			names := make([]string, len(found))
			for i, f := range found {
				names[i] = f.Name
			}
			return "", gjson.Result{}, fmt.Errorf("%w: %s", ErrAmbiguousKind, strings.Join(names, ", "))
		}
	default:
		return "", gjson.Result{}, fmt.Errorf("%w: top-level value is %s", ErrNoKind, r.root.Type)
	}
}

// Field returns the first top-level member called name.
func (r *Raw) Field(name string) (gjson.Result, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return gjson.Result{}, false
}

// Marker returns the explicit schema version member carried by the frame:
// the value of an ApiVersion frame or a top-level api_version member. The
// value is returned whatever its JSON type; callers reject non-strings.
func (r *Raw) Marker() (gjson.Result, bool) {
	for _, name := range []string{"ApiVersion", "api_version"} {
		if v, ok := r.Field(name); ok {
			return v, true
		}
	}
	return gjson.Result{}, false
}

// Get runs a gjson path against the whole frame. Result.Index is a byte
// offset into Data.
func (r *Raw) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Data, path)
}

func syntaxError(data []byte, err error) error {
	var se *json.SyntaxError
	if !errors.As(err, &se) {
		return &eventerr.ParseError{Offset: 0, Message: err.Error()}
	}
	off := se.Offset
	if !strings.HasPrefix(se.Error(), "unexpected end") && off > 0 {
		off--
	}
	if off > int64(len(data)) {
		off = int64(len(data))
	}
	return &eventerr.ParseError{Offset: off, Message: se.Error()}
}

func invalidUTF8(data []byte) (int64, bool) {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return int64(i), true
		}
		i += size
	}
	return 0, false
}
