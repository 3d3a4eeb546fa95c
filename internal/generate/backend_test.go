package generate

import (
	"testing"
	"time"

	"forgeline/internal/config"

	"github.com/stretchr/testify/require"
)

func TestGeminiBackendCarriesConfiguredTimeout(t *testing.T) {
	b, err := NewGeminiBackend(config.BackendConfig{APIKey: "test-key", Timeout: "250ms"})
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, b.timeout)
}

func TestGeminiBackendTimeoutDefault(t *testing.T) {
	b, err := NewGeminiBackend(config.BackendConfig{APIKey: "test-key"})
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, b.timeout)
}

func TestGeminiBackendRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiBackend(config.BackendConfig{})
	require.Error(t, err)
}
