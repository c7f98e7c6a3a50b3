// Package config loads the optional user configuration file and resolves
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the user configuration loaded from YAML. Every field is
// optional; flags override config values, and config values override the
// built-in defaults.
type Config struct {
	// Model is the Claude model used for analysis
	Model string `yaml:"model,omitempty"`

	// Languages requested for annotations, primary first (e.g. ["cs", "en"])
	Languages []string `yaml:"languages,omitempty"`

	// Concurrency is the maximum number of parallel API requests (1-10)
	Concurrency int `yaml:"concurrency,omitempty"`

	// SimilarityThreshold is the Hamming distance at or below which two
	// images count as near-duplicates
	SimilarityThreshold int `yaml:"similarity_threshold,omitempty"`

	// RequestTimeout bounds a single API request (e.g. "120s")
	RequestTimeout string `yaml:"request_timeout,omitempty"`
}

// DefaultPath returns the standard config file location,
// ~/.config/riposte/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "riposte", "config.yaml"), nil
}

// Load reads configuration from the given path. A missing file is not an
// error: the zero Config means "all defaults".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault loads the config from the standard location, falling back to
// an empty config when the home directory cannot be resolved.
func LoadDefault() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return &Config{}, nil
	}
	return Load(path)
}

// ParseRequestTimeout returns the configured request timeout, or zero when
// unset so the caller applies its default.
func (c *Config) ParseRequestTimeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", c.RequestTimeout, err)
	}
	return d, nil
}

// Save writes the configuration to the given path, creating parent
// directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
