package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()

	// No config file anywhere: every value comes from the defaults
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hookbin", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "./data/bins", cfg.Storage.DataDir)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepAliveInterval)
	assert.Equal(t, 16, cfg.Stream.SubscriberBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()

	content := `
server:
  port: 9090
storage:
  type: sqlite
  connection_string: /tmp/test.db
stream:
  keep_alive_interval: 5s
  subscriber_buffer: 4
logging:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.ConnectionString)
	assert.Equal(t, 5*time.Second, cfg.Stream.KeepAliveInterval)
	assert.Equal(t, 4, cfg.Stream.SubscriberBuffer)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset sections keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.True(t, cfg.Server.EnableMetrics)
}

func TestEnvironmentOverrides(t *testing.T) {
	viper.Reset()

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/hookbin")
	t.Setenv("HOOKBIN_DATA_DIR", "/var/lib/hookbin")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/hookbin", cfg.Storage.ConnectionString)
	assert.Equal(t, "/var/lib/hookbin", cfg.Storage.DataDir)
}
