package market

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// Transaction directions relative to the queried address.
const (
	DirectionIn   = "in"
	DirectionOut  = "out"
	DirectionSelf = "self"
)

// Transaction is one history entry. Value is in ether.
type Transaction struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     string    `json:"value"`
	Direction string    `json:"direction"`
	Failed    bool      `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a transaction list and its origin.
type History struct {
	Address      string        `json:"address"`
	Transactions []Transaction `json:"transactions"`
	Source       Source        `json:"source"`
}

// HistoryFetcher reads Etherscan-style txlist results.
type HistoryFetcher struct {
	http    *httputil.Client
	url     string
	apiKey  string
	limit   int
	codec   chain.Codec
	rand    *lockedRand
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// HistoryConfig configures a HistoryFetcher.
type HistoryConfig struct {
	HTTP    *httputil.Client
	URL     string
	APIKey  string
	Limit   int
	Codec   chain.Codec
	Seed    int64
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// NewHistoryFetcher creates a fetcher.
func NewHistoryFetcher(cfg HistoryConfig) *HistoryFetcher {
	if cfg.HTTP == nil {
		cfg.HTTP = httputil.NewClient(httputil.ClientConfig{})
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.Codec == nil {
		cfg.Codec = chain.ResolveCodec(chain.CodecDecimal)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("market-history")
	}
	return &HistoryFetcher{
		http:    cfg.HTTP,
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		limit:   cfg.Limit,
		codec:   cfg.Codec,
		rand:    newRand(cfg.Seed),
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		now:     time.Now,
	}
}

// Fetch returns the latest transactions of address, newest first. Only an
// invalid address is an error.
func (h *HistoryFetcher) Fetch(ctx context.Context, address string) (History, error) {
	if !chain.IsAddress(address) {
		return History{}, svcerrors.InvalidInput("address", "must be a 0x-prefixed 20-byte hex address")
	}
	address = chain.NormalizeAddress(address)

	if h.url != "" {
		txs, err := h.fromAPI(ctx, address)
		if err == nil {
			h.metrics.RecordFetch("history", metrics.FetchLive)
			return History{Address: address, Transactions: txs, Source: SourceAPI}, nil
		}
		h.log.WithError(err).WithField("address", address).Warn("history fetch failed; using synthetic transactions")
	}

	h.metrics.RecordFetch("history", metrics.FetchFallback)
	return History{Address: address, Transactions: h.synthetic(address), Source: SourceSynthetic}, nil
}

func (h *HistoryFetcher) fromAPI(ctx context.Context, address string) ([]Transaction, error) {
	query := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"sort":    {"desc"},
		"page":    {"1"},
		"offset":  {strconv.Itoa(h.limit)},
	}
	if h.apiKey != "" {
		query.Set("apikey", h.apiKey)
	}
	body, err := h.http.Get(ctx, h.url, query)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	result := res.Get("result")
	if !result.IsArray() {
		// "No transactions found" comes back as status 0 with an empty array;
		// anything else non-array is an error message.
		return nil, fmt.Errorf("txlist error: %s", result.String())
	}

	txs := make([]Transaction, 0, len(result.Array()))
	for _, item := range result.Array() {
		wei, ok := new(big.Int).SetString(item.Get("value").String(), 10)
		if !ok {
			return nil, fmt.Errorf("txlist value %q is not an integer", item.Get("value").String())
		}
		from := chain.NormalizeAddress(item.Get("from").String())
		to := chain.NormalizeAddress(item.Get("to").String())
		txs = append(txs, Transaction{
			Hash:      item.Get("hash").String(),
			From:      from,
			To:        to,
			Value:     h.codec.FromWei(wei),
			Direction: direction(address, from, to),
			Failed:    item.Get("isError").String() == "1",
			Timestamp: time.Unix(item.Get("timeStamp").Int(), 0).UTC(),
		})
		if len(txs) == h.limit {
			break
		}
	}
	return txs, nil
}

func (h *HistoryFetcher) synthetic(address string) []Transaction {
	count := 5
	txs := make([]Transaction, 0, count)
	at := h.now().UTC()
	for i := 0; i < count; i++ {
		counterparty := h.randomAddress()
		from, to := counterparty, address
		if i%2 == 1 {
			from, to = address, counterparty
		}
		wei := new(big.Int).Mul(big.NewInt(int64(h.rand.Intn(5000)+1)), big.NewInt(1e15))
		at = at.Add(-time.Duration(h.rand.Intn(36)+1) * time.Hour)
		txs = append(txs, Transaction{
			Hash:      "0x" + h.randomHex(32),
			From:      from,
			To:        to,
			Value:     h.codec.FromWei(wei),
			Direction: direction(address, from, to),
			Timestamp: at,
		})
	}
	return txs
}

func (h *HistoryFetcher) randomAddress() string {
	return chain.NormalizeAddress("0x" + h.randomHex(20))
}

func (h *HistoryFetcher) randomHex(n int) string {
	buf := make([]byte, n)
	h.rand.Read(buf)
	return hex.EncodeToString(buf)
}

func direction(self, from, to string) string {
	switch {
	case from == self && to == self:
		return DirectionSelf
	case from == self:
		return DirectionOut
	default:
		return DirectionIn
	}
}
