package engine

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/devblac/casper-events/internal/event"
)

// Args is the flat view of an event that predicates read: every non-empty
// canonical field plus "kind".
type Args map[string]string

// ArgsOf flattens ev.
func ArgsOf(ev event.Event) Args {
	args := Args{"kind": string(ev.Kind())}
	for _, f := range ev.Fields() {
		if f.Value != "" {
			args[f.Name] = f.Value
		}
	}
	return args
}

// Predicate evaluates whether an event's fields satisfy a condition.
type Predicate func(args Args) bool

// CompilePredicates parses simple expressions into executable predicates.
// Supported operators: ==, !=, >=, <=, >, <, in, contains.
// Examples:
//
//	"height > 100"
//	"cost >= cspr(2.5)"
//	"public_key in 01ab..,02cd.."
//	"error_message contains out of gas"
func CompilePredicates(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Word operators take precedence over symbols; among symbols the two-byte
// forms are tried first.
var (
	wordOps   = []string{" in ", " contains "}
	symbolOps = []string{"==", "!=", ">=", "<=", ">", "<"}
)

func compile(expr string) (Predicate, error) {
	for _, op := range wordOps {
		field, rhs, ok := strings.Cut(expr, op)
		if !ok {
			continue
		}
		field, rhs = strings.TrimSpace(field), strings.TrimSpace(rhs)
		if field == "" || rhs == "" {
			return nil, fmt.Errorf("invalid %s expression: %s", strings.TrimSpace(op), expr)
		}
		if op == " contains " {
			return func(args Args) bool {
				val, ok := args[field]
				return ok && strings.Contains(val, rhs)
			}, nil
		}
		values := map[string]struct{}{}
		for _, v := range strings.Split(rhs, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values[v] = struct{}{}
			}
		}
		return func(args Args) bool {
			val, ok := args[field]
			if !ok {
				return false
			}
			_, hit := values[val]
			return hit
		}, nil
	}

	for _, op := range symbolOps {
		field, rhs, ok := strings.Cut(expr, op)
		if !ok {
			continue
		}
		field, rhs = strings.TrimSpace(field), strings.TrimSpace(rhs)
		if field == "" || rhs == "" {
			return nil, fmt.Errorf("invalid expression: %s", expr)
		}
		return comparison(field, op, rhs), nil
	}
	return nil, fmt.Errorf("unsupported expression: %s", expr)
}

func comparison(field, op, rhs string) Predicate {
	num, isNum := evaluateNumber(rhs)
	return func(args Args) bool {
		val, ok := args[field]
		if !ok {
			return false
		}
		if isNum {
			lhs, ok := evaluateNumber(val)
			if !ok {
				return false
			}
			return holds(op, lhs.Cmp(num))
		}
		switch op {
		case "==":
			return val == rhs
		case "!=":
			return val != rhs
		default:
			return false
		}
	}
}

func holds(op string, cmp int) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	default:
		return cmp <= 0
	}
}

const numPrec = 600

var motesPerCSPR = new(big.Float).SetPrec(numPrec).SetInt64(1_000_000_000)

// evaluateNumber evaluates a numeric expression, supporting:
// - Simple numbers: "100", "1e6", "1_000_000"
// - The cspr(...) helper, which converts CSPR to motes
// - Multiplication: "2_500 * 1e9"
//
// Precision covers the full U512 range of costs.
func evaluateNumber(s string) (*big.Float, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")

	if a, b, ok := strings.Cut(s, "*"); ok {
		x, ok1 := evaluateNumber(a)
		y, ok2 := evaluateNumber(b)
		if !ok1 || !ok2 {
			return nil, false
		}
		return new(big.Float).SetPrec(numPrec).Mul(x, y), true
	}

	if strings.HasPrefix(s, "cspr(") && strings.HasSuffix(s, ")") {
		v, ok := evaluateNumber(s[5 : len(s)-1])
		if !ok {
			return nil, false
		}
		return new(big.Float).SetPrec(numPrec).Mul(v, motesPerCSPR), true
	}

	f, _, err := big.ParseFloat(s, 10, numPrec, big.ToNearestEven)
	if err != nil {
		return nil, false
	}
	return f, true
}

// TokenBucket is a simple per-sink rate limiter.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second

	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucket creates a token bucket with capacity and refill rate.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
	}
}

// Allow consumes one token if available, refilling based on elapsed time.
func (b *TokenBucket) Allow(now time.Time) bool {
	if b.lastUpdate.IsZero() {
		b.lastUpdate = now
	}
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}
