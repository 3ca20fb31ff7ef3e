package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no config file is found.
var ErrNoConfig = errors.New("no mailflow config file found")

// Config is the parsed server configuration.
type Config struct {
	// Addr is the address to listen on. Default ":8080".
	Addr string `yaml:"addr" toml:"addr" json:"addr"`

	// BaseURL is the externally reachable URL of this server, used for
	// log-callback and unsubscribe links handed to the workflow runner.
	BaseURL string `yaml:"base_url" toml:"base_url" json:"base_url"`

	Database Database `yaml:"database" toml:"database" json:"database"`
	Objects  Objects  `yaml:"objects" toml:"objects" json:"objects"`
	Runner   Runner   `yaml:"runner" toml:"runner" json:"runner"`

	// UnsubscribeSecret signs per-recipient unsubscribe link tokens.
	UnsubscribeSecret string `yaml:"unsubscribe_secret" toml:"unsubscribe_secret" json:"unsubscribe_secret"`
}

// Database selects the document store backend.
type Database struct {
	// Driver is "sqlite" or "postgres". Default "sqlite".
	Driver string `yaml:"driver" toml:"driver" json:"driver"`

	// DSN is a file path (sqlite) or connection string (postgres).
	DSN string `yaml:"dsn" toml:"dsn" json:"dsn"`
}

// Objects selects the object store backend for uploaded CSVs and images.
type Objects struct {
	// Backend is "filesystem" or "s3". Default "filesystem".
	Backend string `yaml:"backend" toml:"backend" json:"backend"`

	// Dir is the filesystem backend's root directory.
	Dir string `yaml:"dir" toml:"dir" json:"dir"`

	// S3-compatible settings.
	Endpoint        string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" toml:"region" json:"region"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" json:"secret_access_key"`
	Bucket          string `yaml:"bucket" toml:"bucket" json:"bucket"`
}

// Runner points at the external workflow automation webhook that performs
// the actual email sending.
type Runner struct {
	WebhookURL string `yaml:"webhook_url" toml:"webhook_url" json:"webhook_url"`

	// Secret is sent as a bearer token on trigger calls. Optional.
	Secret string `yaml:"secret" toml:"secret" json:"secret"`
}

// Load finds and parses a mailflow config file from the given directory.
func Load(dir string) (*Config, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *Config) error
	}{
		{"mailflow.toml", parseTOML},
		{"mailflow.yaml", parseYAML},
		{"mailflow.yml", parseYAML},
		{"mailflow.json", parseJSON},
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // File doesn't exist, try next
		}

		var cfg Config
		if err := c.parser(data, &cfg); err != nil {
			return nil, c.name, fmt.Errorf("parse %s: %w", c.name, err)
		}

		if err := cfg.Validate(); err != nil {
			return nil, c.name, fmt.Errorf("validate %s: %w", c.name, err)
		}

		cfg.applyDefaults()

		return &cfg, c.name, nil
	}

	return nil, "", ErrNoConfig
}

// Default returns a config with all defaults applied, for running without a
// config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict: error on unknown fields
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("database.dsn is required for postgres")
	}

	switch c.Objects.Backend {
	case "", "filesystem", "s3":
	default:
		return fmt.Errorf("unknown objects backend %q", c.Objects.Backend)
	}
	if c.Objects.Backend == "s3" && c.Objects.Bucket == "" {
		return errors.New("objects.bucket is required for s3")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "mailflow.db"
	}
	if c.Objects.Backend == "" {
		c.Objects.Backend = "filesystem"
	}
	if c.Objects.Backend == "filesystem" && c.Objects.Dir == "" {
		c.Objects.Dir = "objects"
	}
}
