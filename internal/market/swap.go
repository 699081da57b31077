package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
)

var (
	swapFeeRate     = decimal.RequireFromString("0.003")
	maxSlippageRate = decimal.RequireFromString("0.005")
)

// quoteTTL is how long a simulated quote is presented as valid.
const quoteTTL = 30 * time.Second

// SwapQuote is a simulated swap. No aggregator is consulted and nothing is
// executed; Simulated is always true.
type SwapQuote struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	Rate         decimal.Decimal `json:"rate"`
	Fee          decimal.Decimal `json:"fee"`
	SlippageRate decimal.Decimal `json:"slippage_rate"`
	Simulated    bool            `json:"simulated"`
	PriceSource  Source          `json:"price_source"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// PriceSource supplies the prices a quote is computed from.
type PriceSource interface {
	Prices(ctx context.Context) []Price
}

// Quoter produces simulated swap quotes.
type Quoter struct {
	prices PriceSource
	rand   *lockedRand
	now    func() time.Time
}

// NewQuoter creates a quoter over prices. seed 0 uses the clock.
func NewQuoter(prices PriceSource, seed int64) *Quoter {
	return &Quoter{prices: prices, rand: newRand(seed), now: time.Now}
}

// Quote prices amount of from in units of to, less a 0.3% fee and up to
// 0.5% random slippage.
func (q *Quoter) Quote(ctx context.Context, from, to, amount string) (SwapQuote, error) {
	from, to = ResolveAsset(from), ResolveAsset(to)
	if from == "" || to == "" {
		return SwapQuote{}, svcerrors.InvalidInput("asset", "from and to are required")
	}
	if from == to {
		return SwapQuote{}, svcerrors.InvalidInput("to", "must differ from the asset being sold")
	}
	in, err := decimal.NewFromString(amount)
	if err != nil {
		return SwapQuote{}, svcerrors.InvalidInput("amount", "must be a decimal number")
	}
	if !in.IsPositive() {
		return SwapQuote{}, svcerrors.InvalidInput("amount", "must be greater than zero")
	}

	byAsset := make(map[string]Price)
	for _, p := range q.prices.Prices(ctx) {
		byAsset[p.Asset] = p
	}
	fromPrice, ok := byAsset[from]
	if !ok {
		return SwapQuote{}, svcerrors.InvalidInput("from", "unknown asset "+from)
	}
	toPrice, ok := byAsset[to]
	if !ok {
		return SwapQuote{}, svcerrors.InvalidInput("to", "unknown asset "+to)
	}
	if !toPrice.Price.IsPositive() {
		return SwapQuote{}, svcerrors.Internal("price for "+to+" is zero", nil)
	}

	rate := fromPrice.Price.Div(toPrice.Price)
	gross := in.Mul(rate)
	fee := gross.Mul(swapFeeRate)
	slippage := maxSlippageRate.Mul(decimal.NewFromFloat(q.rand.Float64())).Round(6)
	out := gross.Sub(fee).Mul(decimal.NewFromInt(1).Sub(slippage))

	source := fromPrice.Source
	if !toPrice.Source.Live() {
		source = toPrice.Source
	}

	return SwapQuote{
		From:         from,
		To:           to,
		AmountIn:     in,
		AmountOut:    out.Round(8),
		Rate:         rate.Round(8),
		Fee:          fee.Round(8),
		SlippageRate: slippage,
		Simulated:    true,
		PriceSource:  source,
		ExpiresAt:    q.now().Add(quoteTTL).UTC(),
	}, nil
}
