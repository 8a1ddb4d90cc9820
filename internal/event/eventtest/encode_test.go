package eventtest

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"reflect"
	"testing"

	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/version"
)

func TestSampleIsDeterministic(t *testing.T) {
	a := Sample(7, 50)
	b := Sample(7, 50)
	if len(a) != 50 {
		t.Fatalf("expected 50 events, got %d", len(a))
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different samples")
	}
}

func TestSampledEventsValidate(t *testing.T) {
	for i, ev := range Sample(11, 200) {
		if err := ev.Validate(); err != nil {
			t.Fatalf("sample %d (%T) invalid: %v", i, ev, err)
		}
	}
}

func TestEncodeProducesSingleKindFrames(t *testing.T) {
	for _, ev := range Sample(3, 100) {
		for _, v := range version.All() {
			frame, err := Encode(ev, v)
			if err != nil {
				t.Fatalf("encode %T as %s: %v", ev, v, err)
			}
			if !json.Valid(frame) {
				t.Fatalf("encode %T as %s: invalid JSON %s", ev, v, frame)
			}
			if bytes.HasPrefix(frame, []byte(`"`)) {
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(frame, &obj); err != nil {
				t.Fatalf("frame is not an object: %s", frame)
			}
			if len(obj) != 1 {
				t.Fatalf("expected one top-level key, got %d in %s", len(obj), frame)
			}
		}
	}
}

func TestEncodeVersionedKinds(t *testing.T) {
	ev := event.DeployExpired{DeployHash: "aa"}
	v1, err := EncodeV1(ev)
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	v2, err := EncodeV2(ev)
	if err != nil {
		t.Fatalf("v2: %v", err)
	}
	if !bytes.HasPrefix(v1, []byte(`{"DeployExpired"`)) {
		t.Fatalf("unexpected v1 frame %s", v1)
	}
	if !bytes.HasPrefix(v2, []byte(`{"TransactionExpired"`)) {
		t.Fatalf("unexpected v2 frame %s", v2)
	}
	if _, err := Encode(ev, version.SchemaVersion(0)); err == nil {
		t.Fatalf("expected error for invalid version")
	}
}

func TestReshuffleKeepsValue(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, ev := range Sample(5, 50) {
		frame, err := EncodeV2(ev)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		shuffled, err := Reshuffle(frame, rng)
		if err != nil {
			t.Fatalf("reshuffle: %v", err)
		}
		if !bytes.Equal(Sorted(frame), Sorted(shuffled)) {
			t.Fatalf("reshuffle changed value:\n%s\n%s", frame, shuffled)
		}
	}
}

func TestReshuffleRejectsGarbage(t *testing.T) {
	if _, err := Reshuffle([]byte(`{"a":`), rand.New(rand.NewSource(1))); err == nil {
		t.Fatalf("expected error")
	}
}
