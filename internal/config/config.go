// Package config builds the run configuration once at startup.
//
// Sources, lowest precedence first: Default, a YAML file (Load), FEEDMIRROR_*
// environment variables (ApplyEnv) and command-line flags (applied by the
// CLI). Validate checks the merged result against the embedded CUE schema.
// Nothing below the CLI reads the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the merged configuration for a sync run.
type Config struct {
	Input         string        `yaml:"input"`
	ManifestPath  string        `yaml:"manifest_path"`
	OffersPath    string        `yaml:"offers_path"`
	Concurrency   int           `yaml:"concurrency"`
	Attempts      int           `yaml:"attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	UserAgent     string        `yaml:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	KeyPrefix     string        `yaml:"key_prefix"`
	Hash          string        `yaml:"hash"`
	PublicBaseURL string        `yaml:"public_base_url"`
	ManifestKey   string        `yaml:"manifest_key"`
	HistoryDB     string        `yaml:"history_db"`

	Store     StoreConfig     `yaml:"store"`
	Transcode TranscodeConfig `yaml:"transcode"`
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	Kind      string `yaml:"kind"` // "fs" | "s3"
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// TranscodeConfig selects the transcoder.
type TranscodeConfig struct {
	Kind         string `yaml:"kind"` // "image" | "passthrough"
	MaxDimension int    `yaml:"max_dimension"`
	Quality      int    `yaml:"quality"`
}

// Default returns the built-in defaults. Input and PublicBaseURL have no
// default and must be supplied.
func Default() *Config {
	return &Config{
		ManifestPath: "manifest.json",
		OffersPath:   "offers.json",
		Concurrency:  8,
		Attempts:     3,
		BaseDelay:    200 * time.Millisecond,
		HTTPTimeout:  30 * time.Second,
		UserAgent:    "feedmirror/1.0",
		MaxBodyBytes: 32 << 20,
		KeyPrefix:    "images",
		Hash:         "sha256",
		Store: StoreConfig{
			Kind: "fs",
			Dir:  "mirror",
		},
		Transcode: TranscodeConfig{
			Kind:         "image",
			MaxDimension: 1600,
			Quality:      85,
		},
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
