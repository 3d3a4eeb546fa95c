package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	ws := t.TempDir()
	cfg, err := Load(filepath.Join(ws, "nope.yaml"), ws)
	require.NoError(t, err)
	require.Equal(t, "forgeline", cfg.Name)
	require.Equal(t, filepath.Join(ws, ".forgeline", "forgeline.db"), cfg.Storage.DatabasePath)
	require.True(t, cfg.Pipeline.SandboxEnabled)
	require.Equal(t, 5*time.Minute, cfg.GetInterval())
}

func TestLoadOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "config.yaml")
	content := `pipeline:
  interval: 30s
  sandbox_enabled: false
generation:
  backends:
    - provider: static
  max_retries: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, ws)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.GetInterval())
	require.False(t, cfg.Pipeline.SandboxEnabled)
	require.Len(t, cfg.Generation.Backends, 1)
	require.Equal(t, "static", cfg.Generation.Backends[0].Provider)
	// Untouched sections keep defaults.
	require.Equal(t, 5, cfg.Pipeline.MaxGateAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("FORGELINE_DB", "/tmp/override.db")
	t.Setenv("FORGELINE_INTAKE", "/tmp/intake")

	ws := t.TempDir()
	cfg, err := Load(filepath.Join(ws, "nope.yaml"), ws)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Generation.Backends[0].APIKey)
	require.Equal(t, "/tmp/override.db", cfg.Storage.DatabasePath)
	require.Equal(t, "/tmp/intake", cfg.Ingest.DropDir)
	require.True(t, cfg.Ingest.Enabled)
}

func TestEnvDoesNotClobberExplicitKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	cfg := DefaultConfig(t.TempDir())
	cfg.Generation.Backends[0].APIKey = "explicit"
	cfg.applyEnvOverrides()
	require.Equal(t, "explicit", cfg.Generation.Backends[0].APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "gemini without key",
			mutate:  func(c *Config) {},
			wantErr: "requires an API key",
		},
		{
			name: "static backend needs no key",
			mutate: func(c *Config) {
				c.Generation.Backends = []BackendConfig{{Provider: "static"}}
			},
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Generation.Backends = []BackendConfig{{Provider: "oracle"}}
			},
			wantErr: "unknown provider",
		},
		{
			name: "no backends",
			mutate: func(c *Config) {
				c.Generation.Backends = nil
			},
			wantErr: "at least one backend",
		},
		{
			name: "bad interval",
			mutate: func(c *Config) {
				c.Generation.Backends = []BackendConfig{{Provider: "static"}}
				c.Pipeline.Interval = "soon"
			},
			wantErr: "pipeline.interval",
		},
		{
			name: "zero gate attempts",
			mutate: func(c *Config) {
				c.Generation.Backends = []BackendConfig{{Provider: "static"}}
				c.Pipeline.MaxGateAttempts = 0
			},
			wantErr: "max_gate_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := DefaultConfig(ws)
	cfg.Pipeline.Interval = "90s"

	path := DefaultPath(ws)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, ws)
	require.NoError(t, err)
	require.Equal(t, "90s", loaded.Pipeline.Interval)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, 5*time.Minute, cfg.GetInterval())
	require.Equal(t, 5*time.Second, cfg.GetSandboxTimeout())
	require.Equal(t, 500*time.Millisecond, cfg.GetBackoff())

	b := &BackendConfig{}
	require.Equal(t, 60*time.Second, b.GetBackendTimeout())
}
