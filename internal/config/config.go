// Package config loads forgeline configuration from YAML with environment
// overrides. Only configuration errors are fatal at startup; everything
// downstream recovers per-artifact.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all forgeline configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Policy     PolicyConfig     `yaml:"policy"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig configures the SQLite content store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ActivityPath string `yaml:"activity_path"`
}

// GenerationConfig configures the generation coordinator and its backends.
type GenerationConfig struct {
	// Backends are tried in listed order; the first non-error, non-empty
	// result wins.
	Backends   []BackendConfig `yaml:"backends"`
	MaxRetries int             `yaml:"max_retries"`
	Backoff    string          `yaml:"backoff"`
}

// BackendConfig configures one generation backend.
type BackendConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// PipelineConfig configures the acceptance pipeline daemon.
type PipelineConfig struct {
	Interval        string `yaml:"interval"`
	SandboxEnabled  bool   `yaml:"sandbox_enabled"`
	SandboxTimeout  string `yaml:"sandbox_timeout"`
	MaxGateAttempts int    `yaml:"max_gate_attempts"`
}

// PolicyConfig configures the policy gate rule set.
type PolicyConfig struct {
	// RulesPath points at an optional YAML rule file overriding the
	// built-in keyword/regex/import rules.
	RulesPath string `yaml:"rules_path"`
}

// IngestConfig configures the drop-directory watcher.
type IngestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DropDir  string `yaml:"drop_dir"`
	Creator  string `yaml:"creator"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration rooted at workspace.
func DefaultConfig(workspace string) *Config {
	return &Config{
		Name:    "forgeline",
		Version: "0.1.0",
		Storage: StorageConfig{
			DatabasePath: filepath.Join(workspace, ".forgeline", "forgeline.db"),
			ActivityPath: filepath.Join(workspace, ".forgeline", "activity.jsonl"),
		},
		Generation: GenerationConfig{
			Backends: []BackendConfig{
				{Provider: "gemini", Model: "gemini-2.0-flash", Timeout: "60s"},
			},
			MaxRetries: 3,
			Backoff:    "500ms",
		},
		Pipeline: PipelineConfig{
			Interval:        "5m",
			SandboxEnabled:  true,
			SandboxTimeout:  "5s",
			MaxGateAttempts: 5,
		},
		Ingest: IngestConfig{
			Enabled:  false,
			DropDir:  filepath.Join(workspace, ".forgeline", "intake"),
			Creator:  "ingest",
			MaxBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults for a missing
// file, then applies environment overrides.
func Load(path, workspace string) (*Config, error) {
	cfg := DefaultConfig(workspace)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i := range c.Generation.Backends {
			if c.Generation.Backends[i].Provider == "gemini" && c.Generation.Backends[i].APIKey == "" {
				c.Generation.Backends[i].APIKey = key
			}
		}
	}
	if path := os.Getenv("FORGELINE_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if path := os.Getenv("FORGELINE_ACTIVITY"); path != "" {
		c.Storage.ActivityPath = path
	}
	if dir := os.Getenv("FORGELINE_INTAKE"); dir != "" {
		c.Ingest.DropDir = dir
		c.Ingest.Enabled = true
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if len(c.Generation.Backends) == 0 {
		return fmt.Errorf("generation.backends must list at least one backend")
	}
	for i, b := range c.Generation.Backends {
		switch b.Provider {
		case "gemini":
			if b.APIKey == "" {
				return fmt.Errorf("generation.backends[%d]: gemini backend requires an API key (config or GEMINI_API_KEY)", i)
			}
		case "static", "mock":
			// test/offline providers need no credentials
		default:
			return fmt.Errorf("generation.backends[%d]: unknown provider %q", i, b.Provider)
		}
	}
	if c.Pipeline.MaxGateAttempts < 1 {
		return fmt.Errorf("pipeline.max_gate_attempts must be >= 1")
	}
	if _, err := time.ParseDuration(c.Pipeline.Interval); err != nil {
		return fmt.Errorf("pipeline.interval: %w", err)
	}
	return nil
}

// GetInterval returns the pipeline tick interval as a duration.
func (c *Config) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.Interval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetSandboxTimeout returns the per-submission sandbox timeout.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.SandboxTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetBackoff returns the base backoff between retries of one backend.
func (c *Config) GetBackoff() time.Duration {
	d, err := time.ParseDuration(c.Generation.Backoff)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetBackendTimeout returns the per-call timeout for one backend.
func (b *BackendConfig) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// DefaultPath returns the canonical config location under workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".forgeline", "config.yaml")
}
