package bootstrap

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prayermap/admin-console/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("mock mode in dev", func(t *testing.T) {
		t.Setenv("DEV", "true")
		t.Setenv("AUTH_MODE", "mock")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, config.AuthModeMock, cfg.Auth.Mode)
		assert.True(t, cfg.IsDev)
	})

	t.Run("mock mode outside dev", func(t *testing.T) {
		t.Setenv("DEV", "false")
		t.Setenv("NODE_ENV", "production")
		t.Setenv("AUTH_MODE", "mock")

		_, err := LoadConfig()
		require.Error(t, err)
	})

	t.Run("oidc without discovery", func(t *testing.T) {
		t.Setenv("AUTH_MODE", "oidc")
		t.Setenv("OIDC_DISCOVERY_URL", "")

		_, err := LoadConfig()
		require.Error(t, err)
	})
}
