// Package config loads coedit configuration from YAML.
//
// Every field is optional: defaults are applied first, the file is decoded
// on top with unknown keys rejected, and the result is checked against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/coedit/internal/logging"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Journal   JournalConfig   `yaml:"journal" json:"journal"`
	Log       logging.Config  `yaml:"log" json:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr" json:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// SessionConfig controls session lifetime. History is never truncated.
type SessionConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval" json:"reap_interval"`
}

// TransportConfig controls client connections.
type TransportConfig struct {
	OpsPerSecond    float64       `yaml:"ops_per_second" json:"ops_per_second"`
	Burst           int           `yaml:"burst" json:"burst"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" json:"max_message_bytes"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval" json:"ping_interval"`
	SendBuffer      int           `yaml:"send_buffer" json:"send_buffer"`
}

// JournalConfig controls the audit journal. An empty Path disables it.
type JournalConfig struct {
	Path         string        `yaml:"path" json:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownGrace:     10 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:  5 * time.Minute,
			ReapInterval: 30 * time.Second,
		},
		Transport: TransportConfig{
			OpsPerSecond:    50,
			Burst:           100,
			MaxMessageBytes: 64 << 10,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
			SendBuffer:      256,
		},
		Journal: JournalConfig{
			WriteTimeout: 2 * time.Second,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded #Config schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
