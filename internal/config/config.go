package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devblac/casper-events/internal/event"
	"github.com/devblac/casper-events/internal/eventerr"
	"github.com/devblac/casper-events/internal/version"
)

// DefaultDBPath is used when storage.db_path is not set.
const DefaultDBPath = "casper-events.db"

// Config holds the YAML configuration.
type Config struct {
	Version  int           `yaml:"version"`
	Network  Network       `yaml:"network"`
	SourceID string        `yaml:"source_id"`
	LogLevel string        `yaml:"log_level"`
	Decoder  DecoderConfig `yaml:"decoder"`
	Storage  StorageConfig `yaml:"storage"`
	Filters  []Filter      `yaml:"filters"`
	Sinks    []Sink        `yaml:"sinks"`
}

// Network names the chain a stream comes from.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Local   Network = "local"
)

// ChainName returns the chain_name deploys on this network carry.
func (n Network) ChainName() string {
	switch n {
	case Mainnet:
		return "casper"
	case Testnet:
		return "casper-test"
	default:
		return "casper-net-1"
	}
}

type DecoderConfig struct {
	// VersionHint seeds the stream hint before any ApiVersion frame arrives.
	VersionHint   string   `yaml:"version_hint"`
	MaxFrameBytes int      `yaml:"max_frame_bytes"`
	HaltOn        []string `yaml:"halt_on"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// Filter routes matching events to sinks. An event matches when its kind is
// listed (or Kinds is empty) and every Where predicate holds.
type Filter struct {
	ID    string   `yaml:"id"`
	Kinds []string `yaml:"kinds"`
	Where []string `yaml:"where"`
	Sinks []string `yaml:"sinks"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     float64 `yaml:"burst"`
}

type Sink struct {
	ID         string     `yaml:"id"`
	Type       string     `yaml:"type"`
	WebhookURL string     `yaml:"webhook_url"`
	Template   string     `yaml:"template"`
	URL        string     `yaml:"url"`
	Method     string     `yaml:"method"`
	RateLimit  *RateLimit `yaml:"rate_limit,omitempty"`
}

// Overrides are environment variables that win over the file.
type Overrides struct {
	LogLevel    string `env:"LOG_LEVEL"`
	DBPath      string `env:"CASPER_EVENTS_DB_PATH"`
	VersionHint string `env:"CASPER_EVENTS_VERSION_HINT"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies overrides, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var ov Overrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Apply(ov)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Apply copies the non-empty overrides into c.
func (c *Config) Apply(ov Overrides) {
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}
	if ov.DBPath != "" {
		c.Storage.DBPath = ov.DBPath
	}
	if ov.VersionHint != "" {
		c.Decoder.VersionHint = ov.VersionHint
	}
}

// Validate performs small, direct schema checks and fills defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	switch c.Network {
	case Mainnet, Testnet, Local:
	case "":
		return errors.New("network is required")
	default:
		return fmt.Errorf("unsupported network: %s", c.Network)
	}
	if c.SourceID == "" {
		c.SourceID = string(c.Network)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}

	sinkIDs := map[string]*Sink{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = s
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	filterIDs := map[string]struct{}{}
	for _, f := range c.Filters {
		if _, exists := filterIDs[f.ID]; exists {
			return fmt.Errorf("duplicate filter id: %s", f.ID)
		}
		filterIDs[f.ID] = struct{}{}
		if err := f.Validate(sinkIDs); err != nil {
			return fmt.Errorf("filter %s: %w", f.ID, err)
		}
	}

	return nil
}

func (d *DecoderConfig) Validate() error {
	if _, err := version.ParseHint(d.VersionHint); err != nil {
		return fmt.Errorf("version_hint: %w", err)
	}
	if d.MaxFrameBytes < 0 {
		return errors.New("max_frame_bytes must not be negative")
	}
	for _, k := range d.HaltOn {
		if _, ok := eventerr.ParseKind(k); !ok {
			return fmt.Errorf("halt_on: unknown error kind %q", k)
		}
	}
	return nil
}

// Hint returns the parsed version hint. Validate has already checked it.
func (d DecoderConfig) Hint() version.SchemaVersion {
	v, _ := version.ParseHint(d.VersionHint)
	return v
}

// HaltKinds returns the error kinds that stop a run.
func (d DecoderConfig) HaltKinds() map[eventerr.Kind]bool {
	out := make(map[eventerr.Kind]bool, len(d.HaltOn))
	for _, label := range d.HaltOn {
		if k, ok := eventerr.ParseKind(label); ok {
			out[k] = true
		}
	}
	return out
}

func (f *Filter) Validate(sinkIDs map[string]*Sink) error {
	if f.ID == "" {
		return errors.New("id is required")
	}
	for _, k := range f.Kinds {
		if !event.Known(k) {
			return fmt.Errorf("unknown event kind: %s", k)
		}
	}
	if len(f.Sinks) == 0 {
		return errors.New("at least one sink is required")
	}
	for _, sinkID := range f.Sinks {
		if _, ok := sinkIDs[sinkID]; !ok {
			return fmt.Errorf("unknown sink: %s", sinkID)
		}
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	if rl := s.RateLimit; rl != nil {
		if rl.PerSecond <= 0 {
			return errors.New("rate_limit.per_second must be positive")
		}
		if rl.Burst < 1 {
			rl.Burst = 1
		}
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
