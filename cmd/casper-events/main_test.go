package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

var deployHash = strings.Repeat("5e", 32)

func TestDecodeCommandMatchesAcrossVersions(t *testing.T) {
	input := strings.Join([]string{
		`{"DeployExpired":{"deploy_hash":"` + deployHash + `"}}`,
		`{"TransactionExpired":{"transaction_hash":{"Deploy":"` + deployHash + `"}}}`,
		`{"broken":`,
	}, "\n")

	out, err := execute(t, input, "decode", "--check-contract", "-")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 envelopes, got %d:\n%s", len(lines), out)
	}
	var a, b struct {
		Sequence    uint64          `json:"sequence"`
		Fingerprint string          `json:"fingerprint"`
		Event       json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &a); err != nil {
		t.Fatalf("line 0: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &b); err != nil {
		t.Fatalf("line 1: %v", err)
	}
	if a.Fingerprint != b.Fingerprint || !bytes.Equal(a.Event, b.Event) {
		t.Fatalf("V1 and V2 frames decoded differently:\n%s\n%s", lines[0], lines[1])
	}
	if a.Sequence != 0 || b.Sequence != 1 {
		t.Fatalf("unexpected sequences %d %d", a.Sequence, b.Sequence)
	}
}

func TestDecodeCommandStrict(t *testing.T) {
	flagStrict = true
	t.Cleanup(func() { flagStrict = false })

	if _, err := execute(t, `{"broken":`, "decode", "--strict"); err == nil {
		t.Fatalf("expected strict decode to fail")
	}
}

func TestFingerprintCommand(t *testing.T) {
	raw, err := execute(t, `{"Step":{"era_id":5,"execution_effects":[]}}`, "fingerprint")
	if err != nil {
		t.Fatalf("fingerprint raw: %v", err)
	}
	canonical, err := execute(t, `{"Step":{"era_id":5}}`, "fingerprint", "--canonical")
	if err != nil {
		t.Fatalf("fingerprint canonical: %v", err)
	}
	flagCanonical = false
	if raw != canonical || !strings.HasSuffix(strings.TrimSpace(raw), " Step") {
		t.Fatalf("fingerprints differ: %q vs %q", raw, canonical)
	}
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "", "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !json.Valid([]byte(out)) {
		t.Fatalf("schema output is not JSON")
	}
}

func TestInitValidateRunStateExport(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	t.Setenv("SLACK_WEBHOOK_URL", "http://127.0.0.1:1/slack")
	t.Setenv("ARCHIVE_URL", "http://127.0.0.1:1/archive")
	t.Setenv("CASPER_EVENTS_DB_PATH", filepath.Join(dir, "events.db"))

	if _, err := execute(t, "", "init", "-c", cfgFile); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "", "init", "-c", cfgFile); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
	if out, err := execute(t, "", "validate", "-c", cfgFile); err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}

	capture := strings.Join([]string{
		`data:{"ApiVersion":"2.0.0"}`,
		``,
		`id:1`,
		`data:{"Step":{"era_id":3,"execution_effects":[]}}`,
		``,
	}, "\n")
	out, err := execute(t, capture, "run", "-c", cfgFile, "--dry-run", "-")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 frames, 2 decoded") {
		t.Fatalf("unexpected run summary %q", out)
	}

	out, err = execute(t, "", "state", "-c", cfgFile)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, "cursor 1") || !strings.Contains(out, "Step") {
		t.Fatalf("unexpected state output:\n%s", out)
	}

	out, err = execute(t, "", "export", "-c", cfgFile, "--kind", "Step")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n := strings.Count(strings.TrimSpace(out), "\n") + 1; n != 1 || !strings.Contains(out, `"Step"`) {
		t.Fatalf("unexpected export:\n%s", out)
	}
	_ = os.Remove(cfgFile)
}

func TestVersionCommandListsKinds(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, want := range []string{"schema versions: v1, v2", "DeployAccepted", "TransactionProcessed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
