// Package config loads the threadmesh.yml deployment configuration: engine
// tuning, checkpoint store selection and classifier provider. The library
// itself never reads config files; only the CLI and long-running services
// use this package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes Go duration strings ("250ms", "2s") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EngineConfig tunes the step loop.
type EngineConfig struct {
	MaxTransientRetries int      `yaml:"max_transient_retries,omitempty"`
	RetryBackoff        Duration `yaml:"retry_backoff,omitempty"`
	MaxCommitRetries    int      `yaml:"max_commit_retries,omitempty"`
	CommitBackoff       Duration `yaml:"commit_backoff,omitempty"`
	MaxStepsPerEvent    int      `yaml:"max_steps_per_event,omitempty"`
}

// RedisConfig selects the durable checkpoint store. Absent, the in-memory
// store is used.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ClassifierConfig selects the routing tie-break model.
type ClassifierConfig struct {
	Provider string `yaml:"provider"` // "anthropic" or "openai"
	Model    string `yaml:"model,omitempty"`
}

// Config is the top-level threadmesh.yml document.
type Config struct {
	Version    string            `yaml:"version"`
	Engine     *EngineConfig     `yaml:"engine,omitempty"`
	Redis      *RedisConfig      `yaml:"redis,omitempty"`
	Classifier *ClassifierConfig `yaml:"classifier,omitempty"`
	LogLevel   string            `yaml:"log_level,omitempty"`
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis != nil && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is configured")
	}

	if c.Classifier != nil {
		switch c.Classifier.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("unknown classifier provider: %s (expected: anthropic or openai)", c.Classifier.Provider)
		}
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level: %s", c.LogLevel)
	}

	if e := c.Engine; e != nil {
		if e.MaxTransientRetries < 0 || e.MaxCommitRetries < 0 || e.MaxStepsPerEvent < 0 {
			return fmt.Errorf("engine limits must be non-negative")
		}
	}

	return nil
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
