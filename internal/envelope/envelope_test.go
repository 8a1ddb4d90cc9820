package envelope

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/devblac/casper-events/internal/eventerr"
)

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantOffset int64
	}{
		{"empty", "", 0},
		{"whitespace", "  \n\t", 4},
		{"truncated_object", `{"BlockAdded": {`, 16},
		{"truncated_string", `{"Step": {"era_id": "12`, 23},
		{"bad_token", `{"Step" 1}`, 8},
		{"trailing_garbage", `{"Step": {}} x`, 13},
		{"invalid_utf8", "{\"Fault\": \"\xff\"}", 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			var pe *eventerr.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if pe.Offset != tt.wantOffset {
				t.Fatalf("offset = %d, want %d (%s)", pe.Offset, tt.wantOffset, pe.Message)
			}
		})
	}
}

func TestParseKeepsUnknownFieldsInOrder(t *testing.T) {
	raw, err := Parse([]byte(`{"zeta": 1, "Step": {"era_id": 7}, "extra_debug_info": {"a": [1,2]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw.Shape != ShapeObject {
		t.Fatalf("shape = %v", raw.Shape)
	}
	names := []string{"zeta", "Step", "extra_debug_info"}
	if len(raw.Fields) != len(names) {
		t.Fatalf("fields = %d, want %d", len(raw.Fields), len(names))
	}
	for i, n := range names {
		if raw.Fields[i].Name != n {
			t.Fatalf("field %d = %q, want %q", i, raw.Fields[i].Name, n)
		}
	}
	kind, body, err := raw.Kind()
	if err != nil || kind != "Step" {
		t.Fatalf("kind = %q err=%v", kind, err)
	}
	if body.Get("era_id").Uint() != 7 {
		t.Fatalf("body not captured: %s", body.Raw)
	}
	if got := raw.Get("Step.era_id"); got.Index != 31 {
		t.Fatalf("index = %d, want 31", got.Index)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr error
	}{
		{"unit_string", `"Shutdown"`, "Shutdown", nil},
		{"object", `{"DeployExpired": {"deploy_hash": "aa"}}`, "DeployExpired", nil},
		{"not_identifier", `"hello world"`, "", ErrNoKind},
		{"array", `[1, 2]`, "", ErrNoKind},
		{"number", `42`, "", ErrNoKind},
		{"no_kind", `{"foo": 1}`, "", ErrNoKind},
		{"two_kinds", `{"Step": {}, "Fault": {}}`, "", ErrAmbiguousKind},
		{"extra_pascal_member", `{"Metadata": {}, "DeployProcessed": {}}`, "DeployProcessed", nil},
		{"two_unrecognized", `{"Heartbeat": {}, "Metadata": {}}`, "", ErrAmbiguousKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, _, err := raw.Kind()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("kind = %q err=%v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestMarker(t *testing.T) {
	raw, err := Parse([]byte(`{"ApiVersion": "2.0.0"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m, ok := raw.Marker(); !ok || m.String() != "2.0.0" {
		t.Fatalf("marker = %q ok=%v", m.Raw, ok)
	}

	raw, err = Parse([]byte(`{"Step": {"era_id": 1}, "api_version": "1.5.6"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m, ok := raw.Marker(); !ok || m.String() != "1.5.6" {
		t.Fatalf("marker = %q ok=%v", m.Raw, ok)
	}

	raw, err = Parse([]byte(`{"Step": {"era_id": 1}, "api_version": 5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m, ok := raw.Marker(); !ok || m.Type != gjson.Number || m.Raw != "5" {
		t.Fatalf("non-string marker = %q ok=%v", m.Raw, ok)
	}

	raw, err = Parse([]byte(`{"Step": {"era_id": 1}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := raw.Marker(); ok {
		t.Fatalf("expected no marker")
	}
}
