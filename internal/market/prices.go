package market

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// Price is an asset quote.
type Price struct {
	Asset     string          `json:"asset"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	Currency  string          `json:"currency"`
	Source    Source          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type assetInfo struct {
	symbol string
	base   float64
}

// knownAssets seeds synthetic prices and symbols.
var knownAssets = map[string]assetInfo{
	"ethereum":        {"ETH", 3500},
	"usd-coin":        {"USDC", 1},
	"tether":          {"USDT", 1},
	"dai":             {"DAI", 1},
	"wrapped-bitcoin": {"WBTC", 65000},
	"chainlink":       {"LINK", 15},
	"uniswap":         {"UNI", 8},
}

// symbolAssets maps symbols back to asset ids.
var symbolAssets = func() map[string]string {
	m := make(map[string]string, len(knownAssets))
	for id, info := range knownAssets {
		m[info.symbol] = id
	}
	return m
}()

// ResolveAsset accepts an asset id or a known symbol.
func ResolveAsset(s string) string {
	s = strings.TrimSpace(s)
	if id, ok := symbolAssets[strings.ToUpper(s)]; ok {
		return id
	}
	return strings.ToLower(s)
}

// PriceFeed fetches prices from a CoinGecko-style simple/price endpoint.
type PriceFeed struct {
	http     *httputil.Client
	url      string
	apiKey   string
	assets   []string
	currency string
	rand     *lockedRand
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// PriceFeedConfig configures a PriceFeed.
type PriceFeedConfig struct {
	HTTP     *httputil.Client
	URL      string
	APIKey   string
	Assets   []string
	Currency string
	Seed     int64
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// NewPriceFeed creates a feed.
func NewPriceFeed(cfg PriceFeedConfig) *PriceFeed {
	if cfg.HTTP == nil {
		cfg.HTTP = httputil.NewClient(httputil.ClientConfig{})
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = []string{"ethereum"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("market-prices")
	}
	return &PriceFeed{
		http:     cfg.HTTP,
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		assets:   cfg.Assets,
		currency: strings.ToLower(cfg.Currency),
		rand:     newRand(cfg.Seed),
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      time.Now,
	}
}

// Assets returns the configured asset ids.
func (f *PriceFeed) Assets() []string { return append([]string{}, f.assets...) }

// Fetch returns prices for the configured assets, sorted by asset id. It
// never fails.
func (f *PriceFeed) Fetch(ctx context.Context) []Price {
	if f.url != "" {
		prices, err := f.fromAPI(ctx)
		if err == nil {
			f.metrics.RecordFetch("prices", metrics.FetchLive)
			return prices
		}
		f.log.WithError(err).Warn("price fetch failed; using synthetic prices")
	}
	f.metrics.RecordFetch("prices", metrics.FetchFallback)
	return f.synthetic()
}

func (f *PriceFeed) fromAPI(ctx context.Context) ([]Price, error) {
	query := url.Values{
		"ids":                 {strings.Join(f.assets, ",")},
		"vs_currencies":       {f.currency},
		"include_24hr_change": {"true"},
	}
	if f.apiKey != "" {
		query.Set("x_cg_demo_api_key", f.apiKey)
	}
	body, err := f.http.Get(ctx, f.url, query)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("price response is not JSON")
	}

	res := gjson.ParseBytes(body)
	now := f.now().UTC()
	prices := make([]Price, 0, len(f.assets))
	for _, asset := range f.assets {
		entry := res.Get(gjson.Escape(asset))
		if !entry.Exists() {
			continue
		}
		price, err := decimal.NewFromString(entry.Get(f.currency).String())
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", asset, err)
		}
		change := decimal.NewFromFloat(entry.Get(f.currency + "_24h_change").Float())
		prices = append(prices, Price{
			Asset:     asset,
			Symbol:    symbolFor(asset),
			Price:     price,
			Change24h: change.Round(2),
			Currency:  f.currency,
			Source:    SourceAPI,
			UpdatedAt: now,
		})
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("price response contained none of %v", f.assets)
	}
	sortPrices(prices)
	return prices, nil
}

func (f *PriceFeed) synthetic() []Price {
	now := f.now().UTC()
	prices := make([]Price, 0, len(f.assets))
	for _, asset := range f.assets {
		base := 10.0
		if info, ok := knownAssets[asset]; ok {
			base = info.base
		}
		drift := f.rand.Between(-0.02, 0.02)
		prices = append(prices, Price{
			Asset:     asset,
			Symbol:    symbolFor(asset),
			Price:     decimal.NewFromFloat(base * (1 + drift)).Round(4),
			Change24h: decimal.NewFromFloat(f.rand.Between(-5, 5)).Round(2),
			Currency:  f.currency,
			Source:    SourceSynthetic,
			UpdatedAt: now,
		})
	}
	sortPrices(prices)
	return prices
}

func symbolFor(asset string) string {
	if info, ok := knownAssets[asset]; ok {
		return info.symbol
	}
	return strings.ToUpper(asset)
}

func sortPrices(prices []Price) {
	sort.Slice(prices, func(i, j int) bool { return prices[i].Asset < prices[j].Asset })
}
