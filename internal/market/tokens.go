package market

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// Token is a token-list entry.
type Token struct {
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logo_uri,omitempty"`
}

// TokenList is the token list and its origin.
type TokenList struct {
	Tokens []Token `json:"tokens"`
	Source Source  `json:"source"`
}

// builtinTokens is served when the token list URL is unreachable.
var builtinTokens = []Token{
	{ChainID: 1, Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
	{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
	{ChainID: 1, Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
	{ChainID: 1, Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18},
	{ChainID: 1, Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "WBTC", Name: "Wrapped BTC", Decimals: 8},
	{ChainID: 1, Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Symbol: "LINK", Name: "ChainLink Token", Decimals: 18},
	{ChainID: 1, Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Symbol: "UNI", Name: "Uniswap", Decimals: 18},
}

// TokenFetcher loads a Uniswap-format token list.
type TokenFetcher struct {
	http    *httputil.Client
	url     string
	chainID int64
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewTokenFetcher creates a fetcher for chainID (0 keeps every chain).
func NewTokenFetcher(client *httputil.Client, rawURL string, chainID int64, m *metrics.Metrics, log *logger.Logger) *TokenFetcher {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	if log == nil {
		log = logger.NewDefault("market-tokens")
	}
	return &TokenFetcher{http: client, url: rawURL, chainID: chainID, metrics: m, log: log}
}

// Fetch returns the token list. It never fails.
func (t *TokenFetcher) Fetch(ctx context.Context) TokenList {
	if t.url != "" {
		tokens, err := t.fromURL(ctx)
		if err == nil {
			t.metrics.RecordFetch("tokens", metrics.FetchLive)
			return TokenList{Tokens: tokens, Source: SourceAPI}
		}
		t.log.WithError(err).Warn("token list fetch failed; using built-in list")
	}
	t.metrics.RecordFetch("tokens", metrics.FetchFallback)
	return TokenList{Tokens: append([]Token{}, builtinTokens...), Source: SourceBuiltin}
}

func (t *TokenFetcher) fromURL(ctx context.Context) ([]Token, error) {
	body, err := t.http.Get(ctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	list := gjson.GetBytes(body, "tokens")
	if !list.IsArray() {
		return nil, fmt.Errorf("token list has no tokens array")
	}

	tokens := make([]Token, 0, len(list.Array()))
	list.ForEach(func(_, item gjson.Result) bool {
		chainID := item.Get("chainId").Int()
		if t.chainID != 0 && chainID != t.chainID {
			return true
		}
		address := item.Get("address").String()
		if !chain.IsAddress(address) {
			return true
		}
		tokens = append(tokens, Token{
			ChainID:  chainID,
			Address:  chain.NormalizeAddress(address),
			Symbol:   item.Get("symbol").String(),
			Name:     item.Get("name").String(),
			Decimals: int(item.Get("decimals").Int()),
			LogoURI:  item.Get("logoURI").String(),
		})
		return true
	})
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token list has no usable tokens")
	}
	return tokens, nil
}
