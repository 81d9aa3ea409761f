package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 18000, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Empty(t, cfg.Routes)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"server": {"host": "127.0.0.1", "port": 19000, "token": "from-file"},
		"route_config": {
			"qq": {"url": "ws://localhost:18000/ws", "token": "qq-token"}
		},
		"transport": {"heartbeat_seconds": 10, "backoff_max_seconds": 60}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("MAIMCONN_TOKEN", "from-env")
	t.Setenv("MAIMCONN_PORT", "20000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 20000, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "from-env", cfg.Server.Token, "env overrides file")

	require.Contains(t, cfg.Routes, "qq")
	assert.Equal(t, "qq-token", cfg.Routes["qq"].Token)

	assert.Equal(t, 10*time.Second, cfg.Transport.HeartbeatInterval())
	assert.Equal(t, 60*time.Second, cfg.Transport.BackoffMax())
}

func TestTransportDurations(t *testing.T) {
	var tr TransportConfig
	assert.Equal(t, 30*time.Second, tr.HeartbeatInterval(), "zero means default")

	tr.HeartbeatSeconds = -1
	assert.Equal(t, time.Duration(0), tr.HeartbeatInterval(), "negative disables")

	tr.BackoffMinSeconds = 0.5
	assert.Equal(t, 500*time.Millisecond, tr.BackoffMin())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Server.Token = "secret"
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server, back.Server)
}
