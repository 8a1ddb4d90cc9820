package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/devblac/casper-events/internal/event"
)

func TestCompilePredicates_NumericComparisons(t *testing.T) {
	preds, err := CompilePredicates([]string{"height > 10", "height < 20", "era_id >= 3", "era_id <= 3"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	args := ArgsOf(event.BlockAdded{BlockHash: strings.Repeat("ab", 32), Height: 15, EraID: 3})
	for i, p := range preds {
		if !p(args) {
			t.Fatalf("expected predicate %d to pass", i)
		}
	}
}

func TestCompilePredicates_InAndContains(t *testing.T) {
	preds, err := CompilePredicates([]string{"public_key in 01aa, 01bb ,01cc", "error_message contains out of gas"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	args := Args{"public_key": "01bb", "error_message": "ApiError::OutOfGas: out of gas"}
	for _, p := range preds {
		if !p(args) {
			t.Fatalf("expected predicate to pass")
		}
	}
	if preds[0](Args{"public_key": "01dd"}) {
		t.Fatalf("expected in to miss")
	}
	if preds[1](Args{}) {
		t.Fatalf("expected missing field to fail")
	}
}

func TestCompilePredicates_StringEquality(t *testing.T) {
	preds, err := CompilePredicates([]string{"kind == Step", "success != true"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !preds[0](ArgsOf(event.Step{EraID: 1})) {
		t.Fatalf("expected kind to match")
	}
	if !preds[1](ArgsOf(event.DeployProcessed{Success: false})) {
		t.Fatalf("expected failed deploy to match")
	}
	if preds[1](ArgsOf(event.DeployProcessed{Success: true})) {
		t.Fatalf("expected successful deploy to miss")
	}
}

func TestCompilePredicates_LargeCosts(t *testing.T) {
	tests := []struct {
		expr string
		cost string
		want bool
	}{
		{"cost >= cspr(2.5)", "2500000000", true},
		{"cost > cspr(2.5)", "2500000000", false},
		{"cost > 2_000 * 1e6", "2000000001", true},
		// Beyond float64 precision.
		{"cost > 123456789012345678901234567890", "123456789012345678901234567891", true},
		{"cost == 123456789012345678901234567890", "123456789012345678901234567891", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			preds, err := CompilePredicates([]string{tt.expr})
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := preds[0](Args{"cost": tt.cost}); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompilePredicates_Errors(t *testing.T) {
	for _, expr := range []string{"height", "== 5", "public_key in ", "height ~ 5"} {
		if _, err := CompilePredicates([]string{expr}); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
	preds, err := CompilePredicates([]string{"", "  "})
	if err != nil || len(preds) != 0 {
		t.Fatalf("blank expressions should be ignored, got %d err=%v", len(preds), err)
	}
}

func TestArgsOfOmitsEmptyFields(t *testing.T) {
	args := ArgsOf(event.Fault{EraID: 4, PublicKey: "01" + strings.Repeat("ab", 32)})
	if args["kind"] != "Fault" || args["era_id"] != "4" {
		t.Fatalf("unexpected args %v", args)
	}
	if _, ok := args["timestamp"]; ok {
		t.Fatalf("empty timestamp should be omitted")
	}
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 1) // capacity=2, 1 token/sec
	now := time.Now()

	if !tb.Allow(now) || !tb.Allow(now) {
		t.Fatalf("expected initial tokens available")
	}
	if tb.Allow(now) {
		t.Fatalf("expected third to be rate-limited")
	}

	// Refill after 1.5s -> should allow one
	now = now.Add(1500 * time.Millisecond)
	if !tb.Allow(now) {
		t.Fatalf("expected token after refill")
	}
}
