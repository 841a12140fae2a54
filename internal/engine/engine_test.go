package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subwatch/subwatch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Webhook.ClientState = "secret"
	cfg.Webhook.AppID = "app-1"
	cfg.Webhook.TenantID = "tenant-1"
	return cfg
}

func TestCreateEngine(t *testing.T) {
	e, err := CreateEngine(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestCreateEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Webhook.ClientState = ""

	_, err := CreateEngine(cfg)
	assert.Error(t, err)
}

func TestCreateEngineRejectsMissingKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Crypto.PrivateKeyPath = "/nonexistent/key.pem"

	_, err := CreateEngine(cfg)
	assert.Error(t, err)
}
