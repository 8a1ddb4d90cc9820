// Package eventtest generates synthetic canonical events and renders them
// as raw node frames. It is for tests and fixture tooling only; nothing on
// the decode path imports it.
package eventtest

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/tidwall/sjson"

	"github.com/devblac/casper-events/internal/event"
)

var (
	epochStart = time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC).UnixMilli()
	epochEnd   = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	ttls       = []interface{}{"30m", "1h", "2h 30m", "1day", "18h"}
)

func hexBytes(n int) gopter.Gen {
	return gen.SliceOfN(n, gen.UInt8()).Map(func(b []uint8) string {
		return hex.EncodeToString(b)
	})
}

// Hash generates 32-byte lowercase hex digests.
func Hash() gopter.Gen { return hexBytes(32) }

// PublicKey generates ed25519 and secp256k1 keys in tagged form.
func PublicKey() gopter.Gen {
	return gen.OneGenOf(
		hexBytes(32).Map(func(s string) string { return "01" + s }),
		hexBytes(33).Map(func(s string) string { return "02" + s }),
	)
}

// Account generates public keys and account-hash addresses.
func Account() gopter.Gen {
	return gen.OneGenOf(
		PublicKey(),
		Hash().Map(func(s string) string { return "account-hash-" + s }),
	)
}

func signature() gopter.Gen {
	return gopter.CombineGens(gen.OneConstOf("01", "02"), hexBytes(64)).Map(func(v []interface{}) string {
		return v[0].(string) + v[1].(string)
	})
}

func timestamp() gopter.Gen {
	return gen.Int64Range(epochStart, epochEnd).Map(func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format(event.TimestampLayout)
	})
}

func semver() gopter.Gen {
	return gopter.CombineGens(gen.IntRange(1, 2), gen.IntRange(0, 9), gen.IntRange(0, 20)).Map(func(v []interface{}) string {
		return fmt.Sprintf("%d.%d.%d", v[0].(int), v[1].(int), v[2].(int))
	})
}

func cost() gopter.Gen {
	return gen.UInt64().Map(func(n uint64) string { return strconv.FormatUint(n, 10) })
}

// optional yields either the empty string or a value from g.
func optional(g gopter.Gen) gopter.Gen {
	return gen.OneGenOf(gen.Const(""), g)
}

func apiVersion() gopter.Gen {
	return semver().Map(func(s string) event.Event { return event.APIVersion{APIVersion: s} })
}

func blockAdded() gopter.Gen {
	return gopter.CombineGens(
		Hash(), gen.UInt64(), gen.UInt64(), optional(timestamp()),
		optional(Hash()), optional(Hash()), optional(PublicKey()), optional(semver()),
	).Map(func(v []interface{}) event.Event {
		return event.BlockAdded{
			BlockHash: v[0].(string), Height: v[1].(uint64), EraID: v[2].(uint64), Timestamp: v[3].(string),
			ParentHash: v[4].(string), StateRootHash: v[5].(string), Proposer: v[6].(string), ProtocolVersion: v[7].(string),
		}
	})
}

func deployAccepted() gopter.Gen {
	return gopter.CombineGens(Hash(), Account(), optional(timestamp()), optional(gen.OneConstOf(ttls...))).
		Map(func(v []interface{}) event.Event {
			return event.DeployAccepted{DeployHash: v[0].(string), Account: v[1].(string), Timestamp: v[2].(string), TTL: v[3].(string)}
		})
}

func deployProcessed() gopter.Gen {
	return gopter.CombineGens(
		Hash(), Account(), optional(Hash()), optional(timestamp()), optional(gen.OneConstOf(ttls...)),
		gen.Bool(), cost(), gen.AlphaString(),
	).Map(func(v []interface{}) event.Event {
		ev := event.DeployProcessed{
			DeployHash: v[0].(string), Account: v[1].(string), BlockHash: v[2].(string), Timestamp: v[3].(string),
			TTL: v[4].(string), Success: v[5].(bool), Cost: v[6].(string),
		}
		if !ev.Success {
			ev.ErrorMessage = v[7].(string)
		}
		return ev
	})
}

func deployExpired() gopter.Gen {
	return Hash().Map(func(s string) event.Event { return event.DeployExpired{DeployHash: s} })
}

func fault() gopter.Gen {
	return gopter.CombineGens(gen.UInt64(), PublicKey(), optional(timestamp())).Map(func(v []interface{}) event.Event {
		return event.Fault{EraID: v[0].(uint64), PublicKey: v[1].(string), Timestamp: v[2].(string)}
	})
}

func finalitySignature() gopter.Gen {
	return gopter.CombineGens(Hash(), gen.UInt64(), PublicKey(), signature()).Map(func(v []interface{}) event.Event {
		return event.FinalitySignature{BlockHash: v[0].(string), EraID: v[1].(uint64), PublicKey: v[2].(string), Signature: v[3].(string)}
	})
}

func step() gopter.Gen {
	return gen.UInt64().Map(func(n uint64) event.Event { return event.Step{EraID: n} })
}

func shutdown() gopter.Gen {
	return gen.Const(event.Shutdown{}).Map(func(s event.Shutdown) event.Event { return s })
}

func unknown() gopter.Gen {
	return gopter.CombineGens(gen.Identifier(), gen.Bool(), gen.Int64(), gen.AlphaString()).Map(func(v []interface{}) event.Event {
		ev := event.Unknown{RawKind: "X" + v[0].(string)}
		if !v[1].(bool) {
			return ev
		}
		body, _ := sjson.Set("{}", "n", v[2].(int64))
		body, _ = sjson.Set(body, "s", v[3].(string))
		payload, err := event.NormalizePayload(body)
		if err != nil {
			panic(err)
		}
		ev.Payload = payload
		return ev
	})
}

// ForKind returns the generator for one variant.
func ForKind(k event.Kind) gopter.Gen {
	switch k {
	case event.KindAPIVersion:
		return apiVersion()
	case event.KindBlockAdded:
		return blockAdded()
	case event.KindDeployAccepted:
		return deployAccepted()
	case event.KindDeployProcessed:
		return deployProcessed()
	case event.KindDeployExpired:
		return deployExpired()
	case event.KindFault:
		return fault()
	case event.KindFinalitySignature:
		return finalitySignature()
	case event.KindStep:
		return step()
	case event.KindShutdown:
		return shutdown()
	default:
		return unknown()
	}
}

// Event generates valid canonical events of every variant.
func Event() gopter.Gen {
	gens := make([]gopter.Gen, 0, len(event.Kinds))
	for _, k := range event.Kinds {
		gens = append(gens, ForKind(k))
	}
	return gen.OneGenOf(gens...)
}

// Sample draws n events from a generator seeded with seed. The same seed
// always yields the same events.
func Sample(seed int64, n int) []event.Event {
	params := gopter.DefaultGenParameters()
	params.Rng = rand.New(rand.NewSource(seed))
	g := Event()
	out := make([]event.Event, 0, n)
	for len(out) < n {
		v, ok := g(params).Retrieve()
		ev, isEvent := v.(event.Event)
		if !ok || !isEvent {
			continue
		}
		out = append(out, ev)
	}
	return out
}
