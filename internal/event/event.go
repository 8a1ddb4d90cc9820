// Package event holds the version-independent model every consumer sees.
//
// Each variant is a comparable value type; two events are semantically
// equal exactly when they compare equal with ==.
package event

import (
	"strconv"
)

// Kind is the canonical variant tag.
type Kind string

const (
	KindAPIVersion        Kind = "ApiVersion"
	KindBlockAdded        Kind = "BlockAdded"
	KindDeployAccepted    Kind = "DeployAccepted"
	KindDeployProcessed   Kind = "DeployProcessed"
	KindDeployExpired     Kind = "DeployExpired"
	KindFault             Kind = "Fault"
	KindFinalitySignature Kind = "FinalitySignature"
	KindStep              Kind = "Step"
	KindShutdown          Kind = "Shutdown"
	KindUnknown           Kind = "Unknown"
)

// Kinds lists every variant tag.
var Kinds = []Kind{
	KindAPIVersion, KindBlockAdded, KindDeployAccepted, KindDeployProcessed, KindDeployExpired,
	KindFault, KindFinalitySignature, KindStep, KindShutdown, KindUnknown,
}

// Known reports whether k is one of the fixed variant tags.
func Known(k string) bool {
	for _, kind := range Kinds {
		if string(kind) == k {
			return true
		}
	}
	return false
}

// Event is the closed union of canonical variants.
type Event interface {
	Kind() Kind
	// Validate checks required fields and canonical form.
	Validate() error
	// Fields returns every field as text in the variant's fixed order.
	Fields() []Field
	isEvent()
}

// Field is one canonical (name, value) pair. Absent optional fields have an
// empty value.
type Field struct {
	Name  string
	Value string
}

// APIVersion announces the node API version of the stream.
type APIVersion struct {
	APIVersion string `json:"api_version"`
}

// BlockAdded reports a block appended to the linear chain.
type BlockAdded struct {
	BlockHash       string `json:"block_hash"`
	Height          uint64 `json:"height"`
	EraID           uint64 `json:"era_id"`
	Timestamp       string `json:"timestamp,omitempty"`
	ParentHash      string `json:"parent_hash,omitempty"`
	StateRootHash   string `json:"state_root_hash,omitempty"`
	Proposer        string `json:"proposer,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// DeployAccepted reports a deploy or transaction accepted into the node's
// buffer.
type DeployAccepted struct {
	DeployHash string `json:"deploy_hash"`
	Account    string `json:"account"`
	Timestamp  string `json:"timestamp,omitempty"`
	TTL        string `json:"ttl,omitempty"`
}

// DeployProcessed reports the execution outcome of a deploy or transaction.
type DeployProcessed struct {
	DeployHash   string `json:"deploy_hash"`
	Account      string `json:"account"`
	BlockHash    string `json:"block_hash,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	TTL          string `json:"ttl,omitempty"`
	Success      bool   `json:"success"`
	Cost         string `json:"cost"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DeployExpired reports a deploy or transaction that expired unexecuted.
type DeployExpired struct {
	DeployHash string `json:"deploy_hash"`
}

// Fault reports an equivocating validator.
type Fault struct {
	EraID     uint64 `json:"era_id"`
	PublicKey string `json:"public_key"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FinalitySignature reports a validator's signature over a block.
type FinalitySignature struct {
	BlockHash string `json:"block_hash"`
	EraID     uint64 `json:"era_id"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// Step reports the end-of-era step execution.
type Step struct {
	EraID uint64 `json:"era_id"`
}

// Shutdown reports that the node is shutting down.
type Shutdown struct{}

// Unknown carries a kind this model does not know yet. Payload is the
// RFC 8785 canonical JSON of the body, empty for unit kinds.
type Unknown struct {
	RawKind string `json:"raw_kind"`
	Payload string `json:"payload,omitempty"`
}

func (APIVersion) Kind() Kind        { return KindAPIVersion }
func (BlockAdded) Kind() Kind        { return KindBlockAdded }
func (DeployAccepted) Kind() Kind    { return KindDeployAccepted }
func (DeployProcessed) Kind() Kind   { return KindDeployProcessed }
func (DeployExpired) Kind() Kind     { return KindDeployExpired }
func (Fault) Kind() Kind             { return KindFault }
func (FinalitySignature) Kind() Kind { return KindFinalitySignature }
func (Step) Kind() Kind              { return KindStep }
func (Shutdown) Kind() Kind          { return KindShutdown }
func (Unknown) Kind() Kind           { return KindUnknown }

func (APIVersion) isEvent()        {}
func (BlockAdded) isEvent()        {}
func (DeployAccepted) isEvent()    {}
func (DeployProcessed) isEvent()   {}
func (DeployExpired) isEvent()     {}
func (Fault) isEvent()             {}
func (FinalitySignature) isEvent() {}
func (Step) isEvent()              {}
func (Shutdown) isEvent()          {}
func (Unknown) isEvent()           {}

func (e APIVersion) Fields() []Field {
	return []Field{{"api_version", e.APIVersion}}
}

func (e BlockAdded) Fields() []Field {
	return []Field{
		{"block_hash", e.BlockHash},
		{"height", u64(e.Height)},
		{"era_id", u64(e.EraID)},
		{"timestamp", e.Timestamp},
		{"parent_hash", e.ParentHash},
		{"state_root_hash", e.StateRootHash},
		{"proposer", e.Proposer},
		{"protocol_version", e.ProtocolVersion},
	}
}

func (e DeployAccepted) Fields() []Field {
	return []Field{
		{"deploy_hash", e.DeployHash},
		{"account", e.Account},
		{"timestamp", e.Timestamp},
		{"ttl", e.TTL},
	}
}

func (e DeployProcessed) Fields() []Field {
	return []Field{
		{"deploy_hash", e.DeployHash},
		{"account", e.Account},
		{"block_hash", e.BlockHash},
		{"timestamp", e.Timestamp},
		{"ttl", e.TTL},
		{"success", strconv.FormatBool(e.Success)},
		{"cost", e.Cost},
		{"error_message", e.ErrorMessage},
	}
}

func (e DeployExpired) Fields() []Field {
	return []Field{{"deploy_hash", e.DeployHash}}
}

func (e Fault) Fields() []Field {
	return []Field{
		{"era_id", u64(e.EraID)},
		{"public_key", e.PublicKey},
		{"timestamp", e.Timestamp},
	}
}

func (e FinalitySignature) Fields() []Field {
	return []Field{
		{"block_hash", e.BlockHash},
		{"era_id", u64(e.EraID)},
		{"public_key", e.PublicKey},
		{"signature", e.Signature},
	}
}

func (e Step) Fields() []Field { return []Field{{"era_id", u64(e.EraID)}} }

func (Shutdown) Fields() []Field { return nil }

func (e Unknown) Fields() []Field {
	return []Field{{"raw_kind", e.RawKind}, {"payload", e.Payload}}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
