package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Graph.BaseURL)
	assert.Equal(t, 100, cfg.Relay.MaxBufferSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  addr: ":9090"
webhook:
  client_state: "file-secret"
  app_id: "app-1"
  tenant_id: "tenant-1"
relay:
  max_buffer_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "file-secret", cfg.Webhook.ClientState)
	assert.Equal(t, 25, cfg.Relay.MaxBufferSize)

	// Unset values keep defaults
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	cfg, err := LoadConfigFromFile("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUBWATCH_CLIENT_STATE", "env-secret")
	t.Setenv("SUBWATCH_TENANT_ID", "env-tenant")
	t.Setenv("SUBWATCH_SERVER_ADDR", ":7070")

	cfg, err := LoadConfig("", "", "", "")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Webhook.ClientState)
	assert.Equal(t, "env-tenant", cfg.Webhook.TenantID)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SUBWATCH_SERVER_ADDR", ":7070")

	cfg, err := LoadConfig("", "", ":6060", "debug")
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.Webhook.ClientState = "secret"
	assert.Error(t, cfg.Validate())

	cfg.Webhook.AppID = "app"
	cfg.Webhook.TenantID = "tenant"
	assert.NoError(t, cfg.Validate())
}
