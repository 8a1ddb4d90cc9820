package adapter

import (
	"github.com/devblac/casper-events/internal/event"
)

// Field paths follow the node's SSE JSON: casper-node 1.5.x for V1 and
// casper-node 2.0.x for V2. Each canonical field lists its candidate paths
// in priority order.

type blockPaths struct {
	Hash, Height, Era, Timestamp, Parent, StateRoot, Proposer, Protocol []string
}

type acceptedPaths struct {
	Hash, Account, Timestamp, TTL []string
}

type outcome int

const (
	succeeded outcome = iota
	failed
	// byErrorMessage is a single result shape where a null error_message
	// means success.
	byErrorMessage
)

type resultShape struct {
	Path    string
	Outcome outcome
}

type processedPaths struct {
	Hash, Account, Block, Timestamp, TTL []string
	Results                             []resultShape
}

type finalityPaths struct {
	Block, Era, PublicKey, Signature []string
}

func p(paths ...string) []string { return paths }

var (
	v1Block = blockPaths{
		Hash:      p("block_hash"),
		Height:    p("block.header.height"),
		Era:       p("block.header.era_id"),
		Timestamp: p("block.header.timestamp"),
		Parent:    p("block.header.parent_hash"),
		StateRoot: p("block.header.state_root_hash"),
		Proposer:  p("block.body.proposer"),
		Protocol:  p("block.header.protocol_version"),
	}
	v2Block = blockPaths{
		Hash:      p("block_hash"),
		Height:    p("block.Version2.header.height", "block.Version1.header.height"),
		Era:       p("block.Version2.header.era_id", "block.Version1.header.era_id"),
		Timestamp: p("block.Version2.header.timestamp", "block.Version1.header.timestamp"),
		Parent:    p("block.Version2.header.parent_hash", "block.Version1.header.parent_hash"),
		StateRoot: p("block.Version2.header.state_root_hash", "block.Version1.header.state_root_hash"),
		Proposer:  p("block.Version2.header.proposer", "block.Version1.body.proposer"),
		Protocol:  p("block.Version2.header.protocol_version", "block.Version1.header.protocol_version"),
	}

	v1Accepted = acceptedPaths{
		Hash:      p("hash"),
		Account:   p("header.account"),
		Timestamp: p("header.timestamp"),
		TTL:       p("header.ttl"),
	}
	v2Accepted = acceptedPaths{
		Hash: p("Deploy.hash", "Version1.hash"),
		Account: p(
			"Deploy.header.account",
			"Version1.payload.initiator_addr.PublicKey",
			"Version1.payload.initiator_addr.AccountHash",
			"Version1.header.initiator_addr.PublicKey",
			"Version1.header.initiator_addr.AccountHash",
		),
		Timestamp: p("Deploy.header.timestamp", "Version1.payload.timestamp", "Version1.header.timestamp"),
		TTL:       p("Deploy.header.ttl", "Version1.payload.ttl", "Version1.header.ttl"),
	}

	v1Results = []resultShape{
		{Path: "execution_result.Success", Outcome: succeeded},
		{Path: "execution_result.Failure", Outcome: failed},
	}
	v2Results = []resultShape{
		{Path: "execution_result.Version2", Outcome: byErrorMessage},
		{Path: "execution_result.Version1.Success", Outcome: succeeded},
		{Path: "execution_result.Version1.Failure", Outcome: failed},
	}

	v1Processed = processedPaths{
		Hash:      p("deploy_hash"),
		Account:   p("account"),
		Block:     p("block_hash"),
		Timestamp: p("timestamp"),
		TTL:       p("ttl"),
		Results:   v1Results,
	}
	v2Processed = processedPaths{
		Hash:      p("transaction_hash.Deploy", "transaction_hash.Version1", "deploy_hash"),
		Account:   p("initiator_addr.PublicKey", "initiator_addr.AccountHash", "account"),
		Block:     p("block_hash"),
		Timestamp: p("timestamp"),
		TTL:       p("ttl"),
		Results:   v2Results,
	}

	v1Finality = finalityPaths{
		Block:     p("block_hash"),
		Era:       p("era_id"),
		PublicKey: p("public_key"),
		Signature: p("signature"),
	}
	v2Finality = finalityPaths{
		Block:     p("V2.block_hash", "V1.block_hash"),
		Era:       p("V2.era_id", "V1.era_id"),
		PublicKey: p("V2.public_key", "V1.public_key"),
		Signature: p("V2.signature", "V1.signature"),
	}
)

func v1Table() table {
	return table{
		"ApiVersion":        apiVersion,
		"BlockAdded":        blockAdded(v1Block),
		"DeployAccepted":    deployAccepted(v1Accepted),
		"DeployProcessed":   deployProcessed(v1Processed),
		"DeployExpired":     deployExpired(p("deploy_hash")),
		"Fault":             fault,
		"FinalitySignature": finalitySignature(v1Finality),
		"Step":              step,
		"Shutdown":          shutdown,
	}
}

func v2Table() table {
	return table{
		"ApiVersion":           apiVersion,
		"BlockAdded":           blockAdded(v2Block),
		"TransactionAccepted":  deployAccepted(v2Accepted),
		"DeployAccepted":       deployAccepted(v1Accepted),
		"TransactionProcessed": deployProcessed(v2Processed),
		"DeployProcessed":      deployProcessed(v2Processed),
		"TransactionExpired":   deployExpired(p("transaction_hash.Deploy", "transaction_hash.Version1")),
		"DeployExpired":        deployExpired(p("deploy_hash")),
		"Fault":                fault,
		"FinalitySignature":    finalitySignature(v2Finality),
		"Step":                 step,
		"Shutdown":             shutdown,
	}
}

func apiVersion(r *reader) event.Event {
	return event.APIVersion{APIVersion: r.text(p(""), true, event.NormalizeSemver)}
}

func blockAdded(f blockPaths) rule {
	return func(r *reader) event.Event {
		return event.BlockAdded{
			BlockHash:       r.text(f.Hash, true, event.NormalizeHash),
			Height:          r.uint(f.Height),
			EraID:           r.uint(f.Era),
			Timestamp:       r.text(f.Timestamp, false, event.NormalizeTimestamp),
			ParentHash:      r.text(f.Parent, false, event.NormalizeHash),
			StateRootHash:   r.text(f.StateRoot, false, event.NormalizeHash),
			Proposer:        r.text(f.Proposer, false, event.NormalizePublicKey),
			ProtocolVersion: r.text(f.Protocol, false, event.NormalizeSemver),
		}
	}
}

func deployAccepted(f acceptedPaths) rule {
	return func(r *reader) event.Event {
		return event.DeployAccepted{
			DeployHash: r.text(f.Hash, true, event.NormalizeHash),
			Account:    r.text(f.Account, true, event.NormalizeAccount),
			Timestamp:  r.text(f.Timestamp, false, event.NormalizeTimestamp),
			TTL:        r.text(f.TTL, false, event.NormalizeTTL),
		}
	}
}

func deployProcessed(f processedPaths) rule {
	return func(r *reader) event.Event {
		ev := event.DeployProcessed{
			DeployHash: r.text(f.Hash, true, event.NormalizeHash),
			Account:    r.text(f.Account, true, event.NormalizeAccount),
			BlockHash:  r.text(f.Block, false, event.NormalizeHash),
			Timestamp:  r.text(f.Timestamp, false, event.NormalizeTimestamp),
			TTL:        r.text(f.TTL, false, event.NormalizeTTL),
		}

		candidates := make([]string, len(f.Results))
		for i, s := range f.Results {
			candidates[i] = s.Path
		}
		path, ok := r.object(candidates)
		if !ok {
			res, _ := r.get(p("execution_result"))
			r.fail("execution_result", res, "no known execution result shape")
			return ev
		}
		var shape resultShape
		for _, s := range f.Results {
			if s.Path == path {
				shape = s
			}
		}

		ev.Cost = r.text(p(path+".cost"), true, event.NormalizeCost)
		msg := r.text(p(path+".error_message"), false, nil)
		switch shape.Outcome {
		case succeeded:
			ev.Success = true
		case failed:
			ev.ErrorMessage = msg
		case byErrorMessage:
			ev.Success = msg == ""
			ev.ErrorMessage = msg
		}
		return ev
	}
}

func deployExpired(hash []string) rule {
	return func(r *reader) event.Event {
		return event.DeployExpired{DeployHash: r.text(hash, true, event.NormalizeHash)}
	}
}

func fault(r *reader) event.Event {
	return event.Fault{
		EraID:     r.uint(p("era_id")),
		PublicKey: r.text(p("public_key"), true, event.NormalizePublicKey),
		Timestamp: r.text(p("timestamp"), false, event.NormalizeTimestamp),
	}
}

func finalitySignature(f finalityPaths) rule {
	return func(r *reader) event.Event {
		return event.FinalitySignature{
			BlockHash: r.text(f.Block, true, event.NormalizeHash),
			EraID:     r.uint(f.Era),
			PublicKey: r.text(f.PublicKey, true, event.NormalizePublicKey),
			Signature: r.text(f.Signature, true, event.NormalizeSignature),
		}
	}
}

func step(r *reader) event.Event {
	return event.Step{EraID: r.uint(p("era_id"))}
}

func shutdown(*reader) event.Event { return event.Shutdown{} }
