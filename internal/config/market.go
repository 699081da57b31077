package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes one polled market data source.
type FeedConfig struct {
	Schedule string `yaml:"schedule"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
}

// MarketConfig configures the presentation data services and their pollers.
type MarketConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	Gas          FeedConfig    `yaml:"gas"`
	Prices       FeedConfig    `yaml:"prices"`
	History      FeedConfig    `yaml:"history"`
	Tokens       FeedConfig    `yaml:"tokens"`
	Assets       []string      `yaml:"assets"`
	QuoteAsset   string        `yaml:"quote_asset"`
}

// LoadMarketConfigFromPath loads the market configuration from path. Missing
// fields are filled from DefaultMarketConfig.
func LoadMarketConfigFromPath(path string) (*MarketConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read market config: %w", err)
	}

	cfg := DefaultMarketConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse market config: %w", err)
	}

	for name, feed := range map[string]FeedConfig{"gas": cfg.Gas, "prices": cfg.Prices, "history": cfg.History} {
		if feed.Schedule == "" {
			return nil, fmt.Errorf("feed %s: schedule is required", name)
		}
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("at least one asset is required")
	}

	return cfg, nil
}

// LoadMarketConfigOrDefault loads the market config or returns defaults if the
// file cannot be read or parsed.
func LoadMarketConfigOrDefault(path string) *MarketConfig {
	cfg, err := LoadMarketConfigFromPath(path)
	if err != nil {
		return DefaultMarketConfig()
	}
	return cfg
}

// DefaultMarketConfig returns the default polling setup against public APIs.
func DefaultMarketConfig() *MarketConfig {
	return &MarketConfig{
		FetchTimeout: 10 * time.Second,
		CacheTTL:     2 * time.Minute,
		Gas: FeedConfig{
			Schedule: "@every 15s",
			URL:      "https://api.etherscan.io/api?module=gastracker&action=gasoracle",
		},
		Prices: FeedConfig{
			Schedule: "@every 30s",
			URL:      "https://api.coingecko.com/api/v3/simple/price",
		},
		History: FeedConfig{
			Schedule: "@every 60s",
			URL:      "https://api.etherscan.io/api",
		},
		Tokens: FeedConfig{
			URL: "https://tokens.coingecko.com/uniswap/all.json",
		},
		Assets:     []string{"ethereum", "usd-coin", "tether", "dai", "wrapped-bitcoin"},
		QuoteAsset: "usd",
	}
}
