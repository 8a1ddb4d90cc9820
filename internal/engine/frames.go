package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/devblac/casper-events/internal/decoder"
	"github.com/devblac/casper-events/internal/version"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 64 << 20

// FrameReader splits a captured stream into frames. It accepts either
// newline-delimited JSON or the node's SSE text (data:, id:, comment and
// blank-line dispatch); the format is chosen from the first non-blank line.
type FrameReader struct {
	sc      *bufio.Scanner
	sse     bool
	sniffed bool
	next    uint64
	line    int
}

// NewFrameReader reads frames from r.
func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &FrameReader{sc: sc}
}

// Next returns the next frame, or io.EOF when the input is exhausted.
// Frames without an SSE id get the previous sequence plus one, starting at 0.
func (fr *FrameReader) Next() (decoder.Frame, error) {
	var (
		data  []string
		id    string
		hasID bool
	)
	for {
		line, ok, err := fr.readLine()
		if err != nil {
			return decoder.Frame{}, err
		}
		if !ok {
			if len(data) > 0 {
				return fr.emit(data, id, hasID)
			}
			return decoder.Frame{}, io.EOF
		}

		if !fr.sse {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return fr.emit([]string{line}, "", false)
		}

		if line == "" {
			if len(data) > 0 {
				return fr.emit(data, id, hasID)
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "id":
			id, hasID = value, true
		}
	}
}

func (fr *FrameReader) readLine() (string, bool, error) {
	if !fr.sc.Scan() {
		if err := fr.sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return "", false, fmt.Errorf("line %d: longer than %d bytes", fr.line+1, maxLineBytes)
			}
			return "", false, fmt.Errorf("read frames: %w", err)
		}
		return "", false, nil
	}
	fr.line++
	line := strings.TrimSuffix(fr.sc.Text(), "\r")
	if !fr.sniffed && strings.TrimSpace(line) != "" {
		fr.sniffed = true
		fr.sse = isSSELine(line)
	}
	return line, true, nil
}

func isSSELine(line string) bool {
	if strings.HasPrefix(line, ":") {
		return true
	}
	for _, field := range []string{"data:", "id:", "event:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return true
		}
	}
	return false
}

func (fr *FrameReader) emit(data []string, id string, hasID bool) (decoder.Frame, error) {
	seq := fr.next
	if hasID {
		n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return decoder.Frame{}, fmt.Errorf("line %d: invalid event id %q", fr.line, id)
		}
		seq = n
	}
	fr.next = seq + 1
	return decoder.Frame{Data: []byte(strings.Join(data, "\n")), Sequence: seq}, nil
}

// ReadAll collects every frame from r.
func ReadAll(r io.Reader) ([]decoder.Frame, error) {
	fr := NewFrameReader(r)
	var out []decoder.Frame
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

// AssignHints sets each frame's VersionHint to the version announced by the
// closest preceding ApiVersion frame, or to initial before the first one.
// Frames can then be decoded in any order.
func AssignHints(frames []decoder.Frame, initial version.SchemaVersion) {
	hint := initial
	for i := range frames {
		frames[i].VersionHint = hint
		marker := gjson.GetBytes(frames[i].Data, "ApiVersion")
		if marker.Type != gjson.String {
			continue
		}
		if v, err := version.ParseMarker(marker.Str); err == nil {
			hint = v
		}
	}
}
