package market

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// Tier multipliers of the provider gas price.
var (
	slowMultiplier     = decimal.RequireFromString("0.8")
	standardMultiplier = decimal.NewFromInt(1)
	fastMultiplier     = decimal.RequireFromString("1.5")
)

// GasTier is one speed option.
type GasTier struct {
	Gwei        string `json:"gwei"`
	WaitSeconds int    `json:"wait_seconds"`
}

// GasPrices is a gas tracker snapshot.
type GasPrices struct {
	Slow      GasTier   `json:"slow"`
	Standard  GasTier   `json:"standard"`
	Fast      GasTier   `json:"fast"`
	FeeModel  string    `json:"fee_model,omitempty"`
	BaseFee   string    `json:"base_fee_gwei,omitempty"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeeReader supplies provider fee data. *wallet.Adapter implements it.
type FeeReader interface {
	FeeData(ctx context.Context) (chain.FeeData, error)
}

// GasTracker derives gas tiers, falling back from the provider to a
// gas-oracle API and finally to synthetic tiers.
type GasTracker struct {
	fees    FeeReader
	http    *httputil.Client
	url     string
	apiKey  string
	rand    *lockedRand
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// GasTrackerConfig configures a GasTracker. Fees and URL are optional.
type GasTrackerConfig struct {
	Fees    FeeReader
	HTTP    *httputil.Client
	URL     string
	APIKey  string
	Seed    int64
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// NewGasTracker creates a tracker.
func NewGasTracker(cfg GasTrackerConfig) *GasTracker {
	if cfg.HTTP == nil {
		cfg.HTTP = httputil.NewClient(httputil.ClientConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("market-gas")
	}
	return &GasTracker{
		fees:    cfg.Fees,
		http:    cfg.HTTP,
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		rand:    newRand(cfg.Seed),
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		now:     time.Now,
	}
}

// Fetch returns the current tiers. It never fails.
func (g *GasTracker) Fetch(ctx context.Context) GasPrices {
	if g.fees != nil {
		data, err := g.fees.FeeData(ctx)
		if err == nil && data.GasPrice != nil {
			prices := g.fromProvider(data)
			g.metrics.RecordFetch("gas", metrics.FetchLive)
			return prices
		}
		g.log.WithError(err).Debug("provider gas price unavailable")
	}

	if g.url != "" {
		prices, err := g.fromAPI(ctx)
		if err == nil {
			g.metrics.RecordFetch("gas", metrics.FetchLive)
			return prices
		}
		g.log.WithError(err).Warn("gas oracle fetch failed; using synthetic tiers")
	}

	g.metrics.RecordFetch("gas", metrics.FetchFallback)
	return g.synthetic()
}

func (g *GasTracker) fromProvider(data chain.FeeData) GasPrices {
	gwei := decimal.NewFromBigInt(data.GasPrice, -9)
	prices := g.tiers(gwei.Mul(slowMultiplier), gwei.Mul(standardMultiplier), gwei.Mul(fastMultiplier), SourceProvider)
	prices.FeeModel = data.Model
	if data.BaseFee != nil {
		prices.BaseFee = decimal.NewFromBigInt(data.BaseFee, -9).StringFixed(2)
	}
	return prices
}

func (g *GasTracker) fromAPI(ctx context.Context) (GasPrices, error) {
	query := url.Values{}
	if g.apiKey != "" {
		query.Set("apikey", g.apiKey)
	}
	body, err := g.http.Get(ctx, g.url, query)
	if err != nil {
		return GasPrices{}, err
	}

	res := gjson.ParseBytes(body)
	if status := res.Get("status"); status.Exists() && status.String() != "1" {
		return GasPrices{}, fmt.Errorf("gas oracle error: %s", res.Get("result").String())
	}
	var tiers [3]decimal.Decimal
	for i, field := range []string{"result.SafeGasPrice", "result.ProposeGasPrice", "result.FastGasPrice"} {
		v, err := decimal.NewFromString(res.Get(field).String())
		if err != nil {
			return GasPrices{}, fmt.Errorf("gas oracle %s: %w", field, err)
		}
		tiers[i] = v
	}

	prices := g.tiers(tiers[0], tiers[1], tiers[2], SourceAPI)
	if base := res.Get("result.suggestBaseFee"); base.Exists() {
		if v, err := decimal.NewFromString(base.String()); err == nil {
			prices.BaseFee = v.StringFixed(2)
		}
	}
	return prices, nil
}

func (g *GasTracker) synthetic() GasPrices {
	base := decimal.NewFromFloat(g.rand.Between(15, 45))
	return g.tiers(base.Mul(slowMultiplier), base, base.Mul(fastMultiplier), SourceSynthetic)
}

func (g *GasTracker) tiers(slow, standard, fast decimal.Decimal, source Source) GasPrices {
	return GasPrices{
		Slow:      GasTier{Gwei: slow.StringFixed(2), WaitSeconds: 180},
		Standard:  GasTier{Gwei: standard.StringFixed(2), WaitSeconds: 60},
		Fast:      GasTier{Gwei: fast.StringFixed(2), WaitSeconds: 15},
		Source:    source,
		UpdatedAt: g.now().UTC(),
	}
}
