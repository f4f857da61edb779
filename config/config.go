// Package config loads and validates the i3X service configuration from a
// JSON or YAML file with environment variable overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cesmii/i3x/errors"
	httpgw "github.com/cesmii/i3x/gateway/http"
	"github.com/cesmii/i3x/storage/boltstore"
	"github.com/cesmii/i3x/storage/natskv"
	"github.com/cesmii/i3x/subscription"
	"github.com/cesmii/i3x/valuestore"
)

// Backend names for StorageConfig.Backend.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendNATS   = "nats"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is one of memory, bolt or nats. Defaults to memory.
	Backend string `json:"backend" yaml:"backend"`

	Bolt boltstore.Config `json:"bolt" yaml:"bolt"`
	NATS natskv.Config    `json:"nats" yaml:"nats"`
}

// Config is the full service configuration.
type Config struct {
	HTTP          httpgw.Config       `json:"http" yaml:"http"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Values        valuestore.Config   `json:"values" yaml:"values"`
	Subscriptions subscription.Config `json:"subscriptions" yaml:"subscriptions"`
}

// Default returns the configuration used when no file is supplied: in-memory
// storage and default tuning throughout.
func Default() Config {
	return Config{
		HTTP:          httpgw.DefaultConfig(),
		Storage:       StorageConfig{Backend: BackendMemory},
		Values:        valuestore.DefaultConfig(),
		Subscriptions: subscription.DefaultConfig(),
	}
}

// Load reads the file at path, merges it over the defaults and applies
// environment overrides. An empty path returns the defaults with overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.WrapInvalid(err, "config", "Load", "parse YAML config")
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.WrapInvalid(err, "config", "Load", "parse JSON config")
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides maps I3X_* environment variables onto the loaded
// configuration. Environment always wins over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("I3X_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("I3X_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("I3X_BOLT_PATH"); v != "" {
		cfg.Storage.Bolt.Path = v
	}
	if v := os.Getenv("I3X_NATS_URL"); v != "" {
		cfg.Storage.NATS.URL = v
	}
	if v := os.Getenv("I3X_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Subscriptions.QueueCapacity = n
		}
	}
	if v := os.Getenv("I3X_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Subscriptions.IdleTimeout = d
		}
	}
	if v := os.Getenv("I3X_DEFAULT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Values.DefaultWindow = d
		}
	}
}

// Validate checks structural constraints, collecting every violation.
func (c *Config) Validate() error {
	ve := &errors.ValidationError{}

	switch c.Storage.Backend {
	case "", BackendMemory, BackendNATS:
	case BackendBolt:
		if c.Storage.Bolt.Path == "" {
			ve.Add("storage.bolt.path", "path is required for the bolt backend")
		}
	default:
		ve.Add("storage.backend", "unknown backend "+c.Storage.Backend)
	}

	if c.HTTP.TLS.Enabled {
		if c.HTTP.TLS.CertFile == "" {
			ve.Add("http.tls.certFile", "certFile is required when TLS is enabled")
		}
		if c.HTTP.TLS.KeyFile == "" {
			ve.Add("http.tls.keyFile", "keyFile is required when TLS is enabled")
		}
	}

	if c.Subscriptions.QueueCapacity < 0 {
		ve.Add("subscriptions.queueCapacity", "queue capacity cannot be negative")
	}
	if c.Values.Workers < 0 {
		ve.Add("values.workers", "worker count cannot be negative")
	}

	if ve.Empty() {
		return nil
	}
	return ve
}
