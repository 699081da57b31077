// Package config loads dashboard configuration from the environment and YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
)

// IdentityConfig holds the seven identity/document-store connection parameters.
type IdentityConfig struct {
	APIKey            string `env:"IDENTITY_API_KEY"`
	AuthDomain        string `env:"IDENTITY_AUTH_DOMAIN"`
	ProjectID         string `env:"IDENTITY_PROJECT_ID"`
	StorageBucket     string `env:"IDENTITY_STORAGE_BUCKET"`
	MessagingSenderID string `env:"IDENTITY_MESSAGING_SENDER_ID"`
	AppID             string `env:"IDENTITY_APP_ID"`
	MeasurementID     string `env:"IDENTITY_MEASUREMENT_ID"`

	// Optional. When set, access tokens are signature-checked locally.
	JWTSecret string `env:"IDENTITY_JWT_SECRET"`
}

// Missing lists the environment variables that are absent or blank.
func (c IdentityConfig) Missing() []string {
	fields := []struct {
		name  string
		value string
	}{
		{"IDENTITY_API_KEY", c.APIKey},
		{"IDENTITY_AUTH_DOMAIN", c.AuthDomain},
		{"IDENTITY_PROJECT_ID", c.ProjectID},
		{"IDENTITY_STORAGE_BUCKET", c.StorageBucket},
		{"IDENTITY_MESSAGING_SENDER_ID", c.MessagingSenderID},
		{"IDENTITY_APP_ID", c.AppID},
		{"IDENTITY_MEASUREMENT_ID", c.MeasurementID},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Validate returns a ConfigurationError naming every missing parameter.
func (c IdentityConfig) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return svcerrors.ConfigurationError(missing)
	}
	return nil
}

// BaseURL returns the identity service base URL. A bare host in AuthDomain
// is upgraded to https.
func (c IdentityConfig) BaseURL() string {
	domain := strings.TrimSuffix(strings.TrimSpace(c.AuthDomain), "/")
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return domain
}

// WalletConfig selects the wallet provider and compatibility path.
type WalletConfig struct {
	// Provider is "bridge" (browser extension relay) or "rpc" (direct node).
	Provider            string        `env:"WALLET_PROVIDER,default=bridge"`
	RPCURL              string        `env:"WALLET_RPC_URL,default=http://127.0.0.1:8545"`
	Codec               string        `env:"WALLET_CODEC,default=bigint"`
	AccountPollInterval time.Duration `env:"WALLET_ACCOUNT_POLL_INTERVAL,default=5s"`
	RequestTimeout      time.Duration `env:"WALLET_REQUEST_TIMEOUT,default=2m"`
	RequireMetaMask     bool          `env:"WALLET_REQUIRE_METAMASK,default=false"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr             string        `env:"DASHBOARD_ADDR,default=127.0.0.1:8080"`
	OAuthRedirectURL string        `env:"DASHBOARD_OAUTH_REDIRECT,default=http://127.0.0.1:8080/auth/oauth/callback"`
	PasswordResetURL string        `env:"DASHBOARD_PASSWORD_RESET_URL"`
	AllowedOrigins   string        `env:"DASHBOARD_ALLOWED_ORIGINS,default=http://localhost:3000"`
	RateLimit        int           `env:"DASHBOARD_RATE_LIMIT,default=20"`
	RateBurst        int           `env:"DASHBOARD_RATE_BURST,default=40"`
	ShutdownTimeout  time.Duration `env:"DASHBOARD_SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	LogFormat        string        `env:"LOG_FORMAT,default=text"`
}

// Origins splits AllowedOrigins on commas.
func (c ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Config is the full dashboard configuration.
type Config struct {
	Identity IdentityConfig
	Wallet   WalletConfig
	Server   ServerConfig

	MarketConfigPath string `env:"DASHBOARD_MARKET_CONFIG,default=config/market.yaml"`
	RedisURL         string `env:"REDIS_URL"`
	DatabaseURL      string `env:"DATABASE_URL"`

	Market *MarketConfig
}

// Load reads an optional .env file, decodes the environment and loads the
// market YAML (falling back to defaults when the file is absent).
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	switch strings.ToLower(cfg.Wallet.Provider) {
	case "bridge", "rpc":
		cfg.Wallet.Provider = strings.ToLower(cfg.Wallet.Provider)
	default:
		return nil, fmt.Errorf("WALLET_PROVIDER must be bridge or rpc, got %q", cfg.Wallet.Provider)
	}

	cfg.Market = LoadMarketConfigOrDefault(cfg.MarketConfigPath)
	return &cfg, nil
}
