// Package version decides which node API generation produced a frame.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"

	"github.com/devblac/casper-events/internal/envelope"
	"github.com/devblac/casper-events/internal/eventerr"
)

// SchemaVersion is a supported node event API generation. The zero value
// means "unknown" and is only used for an absent hint.
type SchemaVersion uint8

const (
	V1 SchemaVersion = iota + 1 // casper-node 1.x
	V2                          // casper-node 2.x
)

// Count is the number of supported versions; tables indexed by
// SchemaVersion have Count+1 slots.
const Count = 2

// All lists the supported versions, oldest first.
func All() []SchemaVersion { return []SchemaVersion{V1, V2} }

func (v SchemaVersion) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return "unknown"
	}
}

// Valid reports whether v is a supported version.
func (v SchemaVersion) Valid() bool { return v == V1 || v == V2 }

// ParseMarker maps an explicit API version string such as "2.0.0" to its
// schema generation by major number.
func ParseMarker(marker string) (SchemaVersion, error) {
	sv, err := semver.NewVersion(strings.TrimSpace(marker))
	if err != nil {
		return 0, &eventerr.UnsupportedVersionError{Found: marker, Reason: "not a semantic version"}
	}
	switch sv.Major() {
	case 1:
		return V1, nil
	case 2:
		return V2, nil
	default:
		return 0, &eventerr.UnsupportedVersionError{
			Found:  marker,
			Reason: fmt.Sprintf("no adapter for major version %d", sv.Major()),
		}
	}
}

// ParseHint reads an operator-supplied hint. It accepts "v1", "2", "1.x"
// or a full semantic version. An empty hint yields the zero value.
func ParseHint(hint string) (SchemaVersion, error) {
	h := strings.ToLower(strings.TrimSpace(hint))
	switch h {
	case "":
		return 0, nil
	case "v1", "1", "1.x":
		return V1, nil
	case "v2", "2", "2.x":
		return V2, nil
	}
	v, err := ParseMarker(h)
	if err != nil {
		return 0, fmt.Errorf("version hint %q: %w", hint, err)
	}
	return v, nil
}

// Source names the rule that settled a detection.
type Source string

const (
	FromMarker    Source = "marker"
	FromStructure Source = "structure"
	FromHint      Source = "hint"
	FromDefault   Source = "default"
)

// Detection is the outcome of Detect. Kind and Body are the frame's event
// kind and payload so later stages need not look them up again.
type Detection struct {
	Version SchemaVersion
	Source  Source
	Kind    string
	Body    gjson.Result
}

var errNoSignature = errors.New("no structural signature")

// Detect applies, in order: an explicit marker, the kind's structural
// signature, the caller's hint, then a per-kind default. Every frame either
// resolves to a supported version or fails with UnsupportedVersionError.
func Detect(raw *envelope.Raw, hint SchemaVersion) (Detection, error) {
	kind, body, err := raw.Kind()
	if err != nil {
		return Detection{}, &eventerr.UnsupportedVersionError{Reason: err.Error()}
	}
	d := Detection{Kind: kind, Body: body}

	if marker, ok := raw.Marker(); ok {
		if marker.Type != gjson.String {
			return Detection{}, &eventerr.UnsupportedVersionError{Found: marker.Raw, Reason: "version marker is not a string"}
		}
		v, err := ParseMarker(marker.Str)
		if err != nil {
			return Detection{}, err
		}
		d.Version, d.Source = v, FromMarker
		return d, nil
	}

	if sig, known := signatures[kind]; known {
		v, err := sig(body)
		switch {
		case err == nil:
			d.Version, d.Source = v, FromStructure
			return d, nil
		case !errors.Is(err, errNoSignature):
			return Detection{}, &eventerr.UnsupportedVersionError{Reason: fmt.Sprintf("%s: %v", kind, err)}
		}
	}

	if hint.Valid() {
		d.Version, d.Source = hint, FromHint
		return d, nil
	}

	if _, known := signatures[kind]; known {
		if _, invariant := shapeInvariant[kind]; !invariant {
			return Detection{}, &eventerr.UnsupportedVersionError{Reason: kind + ": unrecognized layout"}
		}
		// Fault and Shutdown look the same in every generation; the oldest
		// one that defines them is as good as any.
		d.Version, d.Source = V1, FromDefault
		return d, nil
	}

	d.Version, d.Source = V2, FromDefault
	return d, nil
}

type signature func(body gjson.Result) (SchemaVersion, error)

var shapeInvariant = map[string]struct{}{
	"Fault":    {},
	"Shutdown": {},
}

// signatures holds, per known kind, the check that tells generations apart.
// A kind returning errNoSignature is ambiguous and falls through to the hint.
var signatures = map[string]signature{
	"ApiVersion": func(gjson.Result) (SchemaVersion, error) {
		return 0, errors.New("value is not a version string")
	},
	"BlockAdded": func(b gjson.Result) (SchemaVersion, error) {
		switch {
		case b.Get("block.header").IsObject():
			return V1, nil
		case b.Get("block.Version2").IsObject(), b.Get("block.Version1").IsObject():
			return V2, nil
		}
		return 0, errors.New("block has neither header nor VersionN wrapper")
	},
	"DeployAccepted":       fixed(V1),
	"DeployExpired":        fixed(V1),
	"TransactionAccepted":  fixed(V2),
	"TransactionProcessed": fixed(V2),
	"TransactionExpired":   fixed(V2),
	"DeployProcessed": func(b gjson.Result) (SchemaVersion, error) {
		res := b.Get("execution_result")
		switch {
		case res.Get("Success").Exists(), res.Get("Failure").Exists():
			return V1, nil
		case res.Get("Version1").Exists(), res.Get("Version2").Exists():
			return V2, nil
		}
		return 0, errors.New("execution_result has no known outcome shape")
	},
	"FinalitySignature": func(b gjson.Result) (SchemaVersion, error) {
		switch {
		case b.Get("V1").IsObject(), b.Get("V2").IsObject():
			return V2, nil
		case b.Get("block_hash").Exists():
			return V1, nil
		}
		return 0, errors.New("neither flat nor V1/V2 wrapped")
	},
	"Step": func(b gjson.Result) (SchemaVersion, error) {
		switch {
		case b.Get("execution_effects").Exists():
			return V2, nil
		case b.Get("execution_effect").Exists():
			return V1, nil
		}
		return 0, errNoSignature
	},
	"Fault":    func(gjson.Result) (SchemaVersion, error) { return 0, errNoSignature },
	"Shutdown": func(gjson.Result) (SchemaVersion, error) { return 0, errNoSignature },
}

func fixed(v SchemaVersion) signature {
	return func(gjson.Result) (SchemaVersion, error) { return v, nil }
}
