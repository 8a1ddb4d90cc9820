package engine

import (
	"io"
	"strings"
	"testing"

	"github.com/devblac/casper-events/internal/version"
)

func TestReadAllNDJSON(t *testing.T) {
	input := `{"ApiVersion":"2.0.0"}

{"Step":{"era_id":1,"execution_effects":[]}}
"Shutdown"
`
	frames, err := ReadAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Sequence != uint64(i) {
			t.Fatalf("frame %d has sequence %d", i, f.Sequence)
		}
	}
	if string(frames[2].Data) != `"Shutdown"` {
		t.Fatalf("unexpected data %q", frames[2].Data)
	}
}

func TestReadAllSSE(t *testing.T) {
	input := strings.Join([]string{
		`data:{"ApiVersion":"1.5.6"}`,
		``,
		`: keep-alive`,
		`id:40`,
		`data:{"Step":`,
		`data: {"era_id":2,"execution_effect":{}}}`,
		``,
		`event: message`,
		`data:"Shutdown"`,
	}, "\r\n")

	frames, err := ReadAll(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Sequence != 0 || frames[1].Sequence != 40 || frames[2].Sequence != 41 {
		t.Fatalf("unexpected sequences %d %d %d", frames[0].Sequence, frames[1].Sequence, frames[2].Sequence)
	}
	if got := string(frames[1].Data); got != "{\"Step\":\n{\"era_id\":2,\"execution_effect\":{}}}" {
		t.Fatalf("multi-line data not joined: %q", got)
	}
	if string(frames[2].Data) != `"Shutdown"` {
		t.Fatalf("trailing frame without blank line lost: %q", frames[2].Data)
	}
}

func TestFrameReaderRejectsBadID(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("id:abc\ndata:{}\n\n"))
	if _, err := fr.Next(); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}

func TestFrameReaderEOF(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("\n\n"))
	if _, err := fr.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestAssignHints(t *testing.T) {
	frames, err := ReadAll(strings.NewReader(strings.Join([]string{
		`{"Step":{"era_id":1}}`,
		`{"ApiVersion":"1.5.6"}`,
		`{"Step":{"era_id":2}}`,
		`{"ApiVersion":"2.0.0"}`,
		`{"Step":{"era_id":3}}`,
	}, "\n")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	AssignHints(frames, version.V2)
	want := []version.SchemaVersion{version.V2, version.V2, version.V1, version.V1, version.V2}
	for i, f := range frames {
		if f.VersionHint != want[i] {
			t.Fatalf("frame %d hint = %s, want %s", i, f.VersionHint, want[i])
		}
	}
}
