// Package config holds all pairpilot configuration. Configuration is loaded
// from a YAML file; every knob has a default so an empty file is valid.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"pairpilot/internal/embedding"

	"gopkg.in/yaml.v3"
)

// Config holds all pairpilot configuration.
type Config struct {
	// StateDir is the root for databases and logs (default ~/.pairpilot).
	StateDir string `yaml:"state_dir"`

	Embedding embedding.Config `yaml:"embedding"`
	Inference InferenceConfig  `yaml:"inference"`
	Retrieval RetrievalConfig  `yaml:"retrieval"`
	Scoring   ScoringConfig    `yaml:"scoring"`
	Gating    GatingConfig     `yaml:"gating"`
	Session   SessionConfig    `yaml:"session"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// LoggingConfig controls the category loggers.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	JSON       bool            `yaml:"json"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a fully-populated configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		StateDir:  filepath.Join(home, ".pairpilot"),
		Embedding: embedding.DefaultConfig(),
		Inference: DefaultInference(),
		Retrieval: DefaultRetrieval(),
		Scoring:   DefaultScoring(),
		Gating:    DefaultGating(),
		Session:   DefaultSession(),
	}
}

// Load reads configuration from a YAML file, filling unset fields with
// defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if err := c.Gating.Validate(); err != nil {
		return err
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Inference.Validate(); err != nil {
		return err
	}
	return c.Session.Validate()
}
