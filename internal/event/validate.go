package event

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/devblac/casper-events/internal/eventerr"
)

// TimestampLayout is the canonical timestamp form: UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	hashLen         = 32
	accountHashTag  = "account-hash-"
	systemPublicKey = "00"
)

var (
	errEmpty       = errors.New("is empty")
	ttlPattern     = regexp.MustCompile(`^[0-9]+[a-z]+( [0-9]+[a-z]+)*$`)
	rawKindPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
	maxU512        = new(big.Int).Lsh(big.NewInt(1), 512)
)

// NormalizeHash accepts a 32-byte hex digest and returns it lowercased.
func NormalizeHash(s string) (string, error) {
	return hexOfLen(s, hashLen)
}

// NormalizePublicKey accepts a tagged Casper public key: 01 + ed25519,
// 02 + compressed secp256k1, or the system key 00.
func NormalizePublicKey(s string) (string, error) {
	s = strings.ToLower(s)
	if s == systemPublicKey {
		return s, nil
	}
	if len(s) < 2 {
		return "", fmt.Errorf("public key %q too short", s)
	}
	switch s[:2] {
	case "01":
		body, err := hexOfLen(s[2:], 32)
		return "01" + body, err
	case "02":
		body, err := hexOfLen(s[2:], 33)
		return "02" + body, err
	default:
		return "", fmt.Errorf("unknown public key tag %q", s[:2])
	}
}

// NormalizeAccount accepts a public key or an account-hash-<hex> address.
func NormalizeAccount(s string) (string, error) {
	if strings.HasPrefix(strings.ToLower(s), accountHashTag) {
		body, err := NormalizeHash(s[len(accountHashTag):])
		if err != nil {
			return "", fmt.Errorf("account hash: %w", err)
		}
		return accountHashTag + body, nil
	}
	return NormalizePublicKey(s)
}

// NormalizeSignature accepts a tagged 64-byte signature.
func NormalizeSignature(s string) (string, error) {
	s = strings.ToLower(s)
	if len(s) < 2 || (s[:2] != "01" && s[:2] != "02") {
		return "", fmt.Errorf("signature must start with 01 or 02")
	}
	body, err := hexOfLen(s[2:], 64)
	return s[:2] + body, err
}

// NormalizeTimestamp parses RFC 3339 and renders it in TimestampLayout.
// Nodes stamp whole milliseconds; finer precision would be lost in the
// canonical form, so it is rejected.
func NormalizeTimestamp(s string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", fmt.Errorf("not an RFC 3339 timestamp")
	}
	if t.Nanosecond()%int(time.Millisecond) != 0 {
		return "", fmt.Errorf("finer than millisecond precision")
	}
	return t.UTC().Format(TimestampLayout), nil
}

// NormalizeSemver renders a version as major.minor.patch. Pre-release and
// build metadata are dropped.
func NormalizeSemver(s string) (string, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return "", fmt.Errorf("not a semantic version")
	}
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()), nil
}

// NormalizeTTL accepts a human duration as printed by the node, e.g. "30m"
// or "1h 30m".
func NormalizeTTL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !ttlPattern.MatchString(s) {
		return "", fmt.Errorf("not a duration")
	}
	return s, nil
}

// NormalizeCost accepts a non-negative decimal U512 and strips leading zeros.
func NormalizeCost(s string) (string, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return "", fmt.Errorf("not a decimal amount")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Cmp(maxU512) >= 0 {
		return "", fmt.Errorf("out of U512 range")
	}
	return n.String(), nil
}

// NormalizePayload renders JSON in RFC 8785 canonical form.
func NormalizePayload(s string) (string, error) {
	out, err := jcs.Transform([]byte(s))
	if err != nil {
		return "", fmt.Errorf("payload: %w", err)
	}
	return string(out), nil
}

func hexOfLen(s string, n int) (string, error) {
	if len(s) != n*2 {
		return "", fmt.Errorf("want %d hex chars, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("not hex")
	}
	return strings.ToLower(s), nil
}

// checker accumulates the first validation failure for one variant.
type checker struct {
	kind Kind
	err  error
}

func (c *checker) field(name, value string, required bool, norm func(string) (string, error)) {
	if c.err != nil {
		return
	}
	if value == "" {
		if required {
			c.fail(name, errEmpty)
		}
		return
	}
	got, err := norm(value)
	switch {
	case err != nil:
		c.fail(name, err)
	case got != value:
		c.fail(name, fmt.Errorf("not in canonical form, want %q", got))
	}
}

func (c *checker) rule(name string, ok bool, reason string) {
	if c.err == nil && !ok {
		c.fail(name, errors.New(reason))
	}
}

func (c *checker) fail(name string, err error) {
	c.err = &eventerr.ValidationError{Field: string(c.kind) + "." + name, Reason: err.Error()}
}

func (e APIVersion) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("api_version", e.APIVersion, true, NormalizeSemver)
	return c.err
}

func (e BlockAdded) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("block_hash", e.BlockHash, true, NormalizeHash)
	c.field("timestamp", e.Timestamp, false, NormalizeTimestamp)
	c.field("parent_hash", e.ParentHash, false, NormalizeHash)
	c.field("state_root_hash", e.StateRootHash, false, NormalizeHash)
	c.field("proposer", e.Proposer, false, NormalizePublicKey)
	c.field("protocol_version", e.ProtocolVersion, false, NormalizeSemver)
	return c.err
}

func (e DeployAccepted) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("deploy_hash", e.DeployHash, true, NormalizeHash)
	c.field("account", e.Account, true, NormalizeAccount)
	c.field("timestamp", e.Timestamp, false, NormalizeTimestamp)
	c.field("ttl", e.TTL, false, NormalizeTTL)
	return c.err
}

func (e DeployProcessed) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("deploy_hash", e.DeployHash, true, NormalizeHash)
	c.field("account", e.Account, true, NormalizeAccount)
	c.field("block_hash", e.BlockHash, false, NormalizeHash)
	c.field("timestamp", e.Timestamp, false, NormalizeTimestamp)
	c.field("ttl", e.TTL, false, NormalizeTTL)
	c.field("cost", e.Cost, true, NormalizeCost)
	c.rule("error_message", !e.Success || e.ErrorMessage == "", "set on a successful execution")
	return c.err
}

func (e DeployExpired) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("deploy_hash", e.DeployHash, true, NormalizeHash)
	return c.err
}

func (e Fault) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("public_key", e.PublicKey, true, NormalizePublicKey)
	c.field("timestamp", e.Timestamp, false, NormalizeTimestamp)
	return c.err
}

func (e FinalitySignature) Validate() error {
	c := checker{kind: e.Kind()}
	c.field("block_hash", e.BlockHash, true, NormalizeHash)
	c.field("public_key", e.PublicKey, true, NormalizePublicKey)
	c.field("signature", e.Signature, true, NormalizeSignature)
	return c.err
}

func (Step) Validate() error { return nil }

func (Shutdown) Validate() error { return nil }

func (e Unknown) Validate() error {
	c := checker{kind: e.Kind()}
	c.rule("raw_kind", rawKindPattern.MatchString(e.RawKind), "not an event name")
	c.rule("raw_kind", e.RawKind == string(KindUnknown) || !Known(e.RawKind), "names a known variant")
	c.field("payload", e.Payload, false, NormalizePayload)
	return c.err
}
