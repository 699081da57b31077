package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
)

func TestIdentityConfig_MissingListsEveryBlankParameter(t *testing.T) {
	cfg := IdentityConfig{
		APIKey:     "anon",
		AuthDomain: "demo.supabase.co",
		ProjectID:  "   ",
		AppID:      "app",
	}

	missing := cfg.Missing()
	assert.Equal(t, []string{
		"IDENTITY_PROJECT_ID",
		"IDENTITY_STORAGE_BUCKET",
		"IDENTITY_MESSAGING_SENDER_ID",
		"IDENTITY_MEASUREMENT_ID",
	}, missing)

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, svcerrors.ErrConfiguration)
}

func TestIdentityConfig_ValidateComplete(t *testing.T) {
	cfg := IdentityConfig{
		APIKey: "k", AuthDomain: "d", ProjectID: "p", StorageBucket: "b",
		MessagingSenderID: "m", AppID: "a", MeasurementID: "g",
	}
	assert.NoError(t, cfg.Validate())
	assert.Nil(t, cfg.Missing())
}

func TestIdentityConfig_BaseURL(t *testing.T) {
	assert.Equal(t, "https://demo.supabase.co", IdentityConfig{AuthDomain: "demo.supabase.co/"}.BaseURL())
	assert.Equal(t, "http://localhost:54321", IdentityConfig{AuthDomain: "http://localhost:54321"}.BaseURL())
	assert.Equal(t, "", IdentityConfig{}.BaseURL())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("IDENTITY_API_KEY", "anon-key")
	t.Setenv("IDENTITY_AUTH_DOMAIN", "http://localhost:54321")
	t.Setenv("WALLET_PROVIDER", "RPC")
	t.Setenv("WALLET_CODEC", "decimal")
	t.Setenv("DASHBOARD_MARKET_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "anon-key", cfg.Identity.APIKey)
	assert.Equal(t, "rpc", cfg.Wallet.Provider)
	assert.Equal(t, "decimal", cfg.Wallet.Codec)
	assert.Equal(t, 5*time.Second, cfg.Wallet.AccountPollInterval)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	require.NotNil(t, cfg.Market)
	assert.Equal(t, "@every 15s", cfg.Market.Gas.Schedule)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("WALLET_PROVIDER", "carrier-pigeon")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("IDENTITY_PROJECT_ID=from-file\n"), 0o600))
	t.Setenv("IDENTITY_PROJECT_ID", "")
	os.Unsetenv("IDENTITY_PROJECT_ID")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Identity.ProjectID)
}

func TestLoadMarketConfigFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fetch_timeout: 3s
assets: [ethereum]
gas:
  schedule: "@every 20s"
prices:
  schedule: "@every 45s"
history:
  schedule: "@every 2m"
`), 0o600))

	cfg, err := LoadMarketConfigFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, []string{"ethereum"}, cfg.Assets)
	assert.Equal(t, "@every 20s", cfg.Gas.Schedule)
	// Unset fields keep their defaults.
	assert.Equal(t, "usd", cfg.QuoteAsset)
	assert.NotEmpty(t, cfg.Tokens.URL)
}

func TestLoadMarketConfigFromPath_RequiresSchedules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gas:\n  schedule: \"\"\n"), 0o600))

	_, err := LoadMarketConfigFromPath(path)
	assert.Error(t, err)
}

func TestLoadMarketConfigOrDefault(t *testing.T) {
	cfg := LoadMarketConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, DefaultMarketConfig(), cfg)
}

func TestServerConfig_Origins(t *testing.T) {
	cfg := ServerConfig{AllowedOrigins: " https://a.example.com, ,*.preview.example.com,"}
	assert.Equal(t, []string{"https://a.example.com", "*.preview.example.com"}, cfg.Origins())
	assert.Empty(t, ServerConfig{}.Origins())
}
