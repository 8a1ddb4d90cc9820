package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devblac/casper-events/internal/eventerr"
	"github.com/devblac/casper-events/internal/version"
)

const baseYAML = `
version: 1
network: testnet
decoder:
  version_hint: v2
  halt_on: [internal]
filters:
  - id: big_blocks
    kinds: [BlockAdded]
    where: ["height > 100"]
    sinks: ["hook"]
sinks:
  - id: hook
    type: webhook
    url: ${HOOK_URL}
    rate_limit:
      per_second: 5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	cfgPath := writeConfig(t, baseYAML)
	t.Setenv("HOOK_URL", "http://hooks.test/casper")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Sinks[0].URL; got != "http://hooks.test/casper" {
		t.Fatalf("url not interpolated, got %q", got)
	}
	if cfg.Sinks[0].Method != "POST" {
		t.Fatalf("expected default method POST, got %q", cfg.Sinks[0].Method)
	}
	if cfg.Sinks[0].RateLimit.Burst != 1 {
		t.Fatalf("expected default burst 1, got %v", cfg.Sinks[0].RateLimit.Burst)
	}
	if cfg.SourceID != "testnet" || cfg.Storage.DBPath != DefaultDBPath || cfg.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Decoder.Hint() != version.V2 {
		t.Fatalf("expected v2 hint, got %s", cfg.Decoder.Hint())
	}
	if halt := cfg.Decoder.HaltKinds(); !halt[eventerr.KindInternal] || halt[eventerr.KindParse] {
		t.Fatalf("unexpected halt kinds %v", halt)
	}
	if cfg.Network.ChainName() != "casper-test" {
		t.Fatalf("unexpected chain name %q", cfg.Network.ChainName())
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	cfgPath := writeConfig(t, baseYAML)
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected missing env to fail")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	cfgPath := writeConfig(t, baseYAML)
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := os.WriteFile(envPath, []byte("HOOK_URL=http://from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("HOOK_URL") })

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sinks[0].URL != "http://from-dotenv" {
		t.Fatalf("expected .env value, got %q", cfg.Sinks[0].URL)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	cfgPath := writeConfig(t, baseYAML)
	t.Setenv("HOOK_URL", "http://hooks.test")
	t.Setenv("CASPER_EVENTS_DB_PATH", "/tmp/override.db")
	t.Setenv("CASPER_EVENTS_VERSION_HINT", "1.5.6")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/override.db" {
		t.Fatalf("db path override ignored: %q", cfg.Storage.DBPath)
	}
	if cfg.Decoder.Hint() != version.V1 {
		t.Fatalf("hint override ignored: %s", cfg.Decoder.Hint())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level override ignored: %q", cfg.LogLevel)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no version", "network: mainnet\n", "version is required"},
		{"no network", "version: 1\n", "network is required"},
		{"bad network", "version: 1\nnetwork: devnet\n", "unsupported network"},
		{"bad hint", "version: 1\nnetwork: local\ndecoder:\n  version_hint: v7\n", "version_hint"},
		{"bad halt kind", "version: 1\nnetwork: local\ndecoder:\n  halt_on: [timeout]\n", "unknown error kind"},
		{"unknown kind", "version: 1\nnetwork: local\nfilters:\n  - id: f\n    kinds: [Blocks]\n    sinks: [s]\nsinks:\n  - id: s\n    type: webhook\n    url: http://x\n", "unknown event kind"},
		{"unknown sink", "version: 1\nnetwork: local\nfilters:\n  - id: f\n    sinks: [nope]\n", "unknown sink"},
		{"duplicate sink", "version: 1\nnetwork: local\nsinks:\n  - id: s\n    type: webhook\n    url: http://x\n  - id: s\n    type: webhook\n    url: http://y\n", "duplicate sink id"},
		{"bad rate", "version: 1\nnetwork: local\nsinks:\n  - id: s\n    type: slack\n    webhook_url: http://x\n    rate_limit:\n      per_second: 0\n", "per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
