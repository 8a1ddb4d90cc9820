package eventtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/version"
)

// frame builds a raw frame with sjson, keeping the first error.
type frame struct {
	b   []byte
	err error
}

func newFrame() *frame { return &frame{b: []byte("{}")} }

func (f *frame) set(path string, v interface{}) {
	if f.err == nil {
		f.b, f.err = sjson.SetBytes(f.b, path, v)
	}
}

func (f *frame) opt(path, v string) {
	if v != "" {
		f.set(path, v)
	}
}

func (f *frame) raw(path, v string) {
	if f.err == nil {
		f.b, f.err = sjson.SetRawBytes(f.b, path, []byte(v))
	}
}

func (f *frame) done() ([]byte, error) { return f.b, f.err }

// Encode renders ev as the node of generation v would have sent it.
func Encode(ev event.Event, v version.SchemaVersion) ([]byte, error) {
	switch v {
	case version.V1:
		return EncodeV1(ev)
	case version.V2:
		return EncodeV2(ev)
	default:
		return nil, fmt.Errorf("no encoder for %s", v)
	}
}

// EncodeV1 renders ev in casper-node 1.x SSE form.
func EncodeV1(ev event.Event) ([]byte, error) {
	if b, ok, err := encodeShared(ev); ok {
		return b, err
	}
	f := newFrame()
	switch e := ev.(type) {
	case event.BlockAdded:
		f.set("BlockAdded.block_hash", e.BlockHash)
		f.set("BlockAdded.block.hash", e.BlockHash)
		f.opt("BlockAdded.block.header.parent_hash", e.ParentHash)
		f.opt("BlockAdded.block.header.state_root_hash", e.StateRootHash)
		f.raw("BlockAdded.block.header.era_end", "null")
		f.opt("BlockAdded.block.header.timestamp", e.Timestamp)
		f.set("BlockAdded.block.header.era_id", e.EraID)
		f.set("BlockAdded.block.header.height", e.Height)
		f.opt("BlockAdded.block.header.protocol_version", e.ProtocolVersion)
		f.opt("BlockAdded.block.body.proposer", e.Proposer)
		f.raw("BlockAdded.block.body.deploy_hashes", "[]")
		f.raw("BlockAdded.block.proofs", "[]")
	case event.DeployAccepted:
		f.set("DeployAccepted.hash", e.DeployHash)
		f.set("DeployAccepted.header.account", e.Account)
		f.opt("DeployAccepted.header.timestamp", e.Timestamp)
		f.opt("DeployAccepted.header.ttl", e.TTL)
		f.set("DeployAccepted.header.chain_name", "casper-test")
		f.raw("DeployAccepted.approvals", "[]")
	case event.DeployProcessed:
		f.set("DeployProcessed.deploy_hash", e.DeployHash)
		f.set("DeployProcessed.account", e.Account)
		f.opt("DeployProcessed.timestamp", e.Timestamp)
		f.opt("DeployProcessed.ttl", e.TTL)
		f.raw("DeployProcessed.dependencies", "[]")
		f.opt("DeployProcessed.block_hash", e.BlockHash)
		if e.Success {
			f.raw("DeployProcessed.execution_result.Success.transfers", "[]")
			f.set("DeployProcessed.execution_result.Success.cost", e.Cost)
		} else {
			f.raw("DeployProcessed.execution_result.Failure.transfers", "[]")
			f.set("DeployProcessed.execution_result.Failure.cost", e.Cost)
			f.set("DeployProcessed.execution_result.Failure.error_message", e.ErrorMessage)
		}
	case event.DeployExpired:
		f.set("DeployExpired.deploy_hash", e.DeployHash)
	case event.FinalitySignature:
		f.set("FinalitySignature.block_hash", e.BlockHash)
		f.set("FinalitySignature.era_id", e.EraID)
		f.set("FinalitySignature.signature", e.Signature)
		f.set("FinalitySignature.public_key", e.PublicKey)
	case event.Step:
		f.set("Step.era_id", e.EraID)
		f.raw("Step.execution_effect", `{"operations":[],"transforms":[]}`)
	default:
		return nil, fmt.Errorf("no V1 encoding for %T", ev)
	}
	return f.done()
}

// EncodeV2 renders ev in casper-node 2.x SSE form.
func EncodeV2(ev event.Event) ([]byte, error) {
	if b, ok, err := encodeShared(ev); ok {
		return b, err
	}
	f := newFrame()
	switch e := ev.(type) {
	case event.BlockAdded:
		const h = "BlockAdded.block.Version2.header."
		f.set("BlockAdded.block_hash", e.BlockHash)
		f.set("BlockAdded.block.Version2.hash", e.BlockHash)
		f.opt(h+"parent_hash", e.ParentHash)
		f.opt(h+"state_root_hash", e.StateRootHash)
		f.opt(h+"timestamp", e.Timestamp)
		f.set(h+"era_id", e.EraID)
		f.set(h+"height", e.Height)
		f.opt(h+"protocol_version", e.ProtocolVersion)
		f.opt(h+"proposer", e.Proposer)
		f.set(h+"current_gas_price", 1)
		f.raw("BlockAdded.block.Version2.body", `{"transactions":{},"rewarded_signatures":[]}`)
	case event.DeployAccepted:
		f.set("TransactionAccepted.Version1.hash", e.DeployHash)
		f.set("TransactionAccepted.Version1.payload.initiator_addr."+initiator(e.Account), e.Account)
		f.opt("TransactionAccepted.Version1.payload.timestamp", e.Timestamp)
		f.opt("TransactionAccepted.Version1.payload.ttl", e.TTL)
		f.set("TransactionAccepted.Version1.payload.chain_name", "casper-test")
		f.raw("TransactionAccepted.Version1.approvals", "[]")
	case event.DeployProcessed:
		f.set("TransactionProcessed.transaction_hash.Version1", e.DeployHash)
		f.set("TransactionProcessed.initiator_addr."+initiator(e.Account), e.Account)
		f.opt("TransactionProcessed.timestamp", e.Timestamp)
		f.opt("TransactionProcessed.ttl", e.TTL)
		f.opt("TransactionProcessed.block_hash", e.BlockHash)
		switch {
		case e.Success:
			f.raw("TransactionProcessed.execution_result.Version2.error_message", "null")
			f.set("TransactionProcessed.execution_result.Version2.cost", e.Cost)
		case e.ErrorMessage != "":
			f.set("TransactionProcessed.execution_result.Version2.error_message", e.ErrorMessage)
			f.set("TransactionProcessed.execution_result.Version2.cost", e.Cost)
		default:
			// A Version2 result cannot fail without a message; use the legacy shape.
			f.set("TransactionProcessed.execution_result.Version1.Failure.cost", e.Cost)
			f.set("TransactionProcessed.execution_result.Version1.Failure.error_message", "")
		}
		f.raw("TransactionProcessed.messages", "[]")
	case event.DeployExpired:
		f.set("TransactionExpired.transaction_hash.Deploy", e.DeployHash)
	case event.FinalitySignature:
		f.set("FinalitySignature.V2.block_hash", e.BlockHash)
		f.set("FinalitySignature.V2.era_id", e.EraID)
		f.set("FinalitySignature.V2.signature", e.Signature)
		f.set("FinalitySignature.V2.public_key", e.PublicKey)
	case event.Step:
		f.set("Step.era_id", e.EraID)
		f.raw("Step.execution_effects", "[]")
	default:
		return nil, fmt.Errorf("no V2 encoding for %T", ev)
	}
	return f.done()
}

// encodeShared handles variants whose frame is the same in every generation.
func encodeShared(ev event.Event) ([]byte, bool, error) {
	switch e := ev.(type) {
	case event.APIVersion:
		b, err := sjson.SetBytes([]byte("{}"), "ApiVersion", e.APIVersion)
		return b, true, err
	case event.Fault:
		f := newFrame()
		f.set("Fault.era_id", e.EraID)
		f.set("Fault.public_key", e.PublicKey)
		f.opt("Fault.timestamp", e.Timestamp)
		b, err := f.done()
		return b, true, err
	case event.Shutdown:
		return []byte(`"Shutdown"`), true, nil
	case event.Unknown:
		if e.Payload == "" {
			b, err := json.Marshal(e.RawKind)
			return b, true, err
		}
		b, err := sjson.SetRawBytes([]byte("{}"), e.RawKind, []byte(e.Payload))
		return b, true, err
	}
	return nil, false, nil
}

func initiator(account string) string {
	if strings.HasPrefix(account, "account-hash-") {
		return "AccountHash"
	}
	return "PublicKey"
}

// Reshuffle re-encodes a frame with object keys in random order and random
// insignificant whitespace. The JSON value is unchanged.
func Reshuffle(data []byte, rng *rand.Rand) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("reshuffle: %w", err)
	}
	var buf bytes.Buffer
	if err := writeShuffled(&buf, v, rng); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sorted re-encodes a frame with sorted keys and indentation.
func Sorted(data []byte) []byte {
	return pretty.PrettyOptions(data, &pretty.Options{Indent: "\t", SortKeys: true})
}

var blanks = []string{"", " ", "\n", "\t", "  ", "\r\n "}

func writeShuffled(buf *bytes.Buffer, v interface{}, rng *rand.Rand) error {
	ws := func() { buf.WriteString(blanks[rng.Intn(len(blanks))]) }
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			ws()
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			ws()
			buf.WriteByte(':')
			ws()
			if err := writeShuffled(buf, t[k], rng); err != nil {
				return err
			}
			ws()
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			ws()
			if err := writeShuffled(buf, e, rng); err != nil {
				return err
			}
		}
		ws()
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
