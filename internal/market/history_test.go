package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

const (
	historyAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	otherAddr   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func TestHistory_API(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, historyAddr, q.Get("address"))
		assert.Equal(t, "desc", q.Get("sort"))
		assert.Equal(t, "2", q.Get("offset"))
		w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"hash":"0x01","from":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","to":"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359","value":"1500000000000000000","timeStamp":"1700000000","isError":"0"},
			{"hash":"0x02","from":"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359","to":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","value":"0","timeStamp":"1690000000","isError":"1"},
			{"hash":"0x03","from":"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359","to":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed","value":"1","timeStamp":"1680000000","isError":"0"}
		]}`))
	}))
	defer server.Close()

	h := NewHistoryFetcher(HistoryConfig{URL: server.URL, Limit: 2, Logger: logger.NewDiscard("test")})
	hist, err := h.Fetch(context.Background(), "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)

	assert.Equal(t, SourceAPI, hist.Source)
	assert.Equal(t, historyAddr, hist.Address)
	require.Len(t, hist.Transactions, 2)

	out := hist.Transactions[0]
	assert.Equal(t, "0x01", out.Hash)
	assert.Equal(t, historyAddr, out.From)
	assert.Equal(t, otherAddr, out.To)
	assert.Equal(t, "1.5", out.Value)
	assert.Equal(t, DirectionOut, out.Direction)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), out.Timestamp)
	assert.False(t, out.Failed)

	in := hist.Transactions[1]
	assert.Equal(t, DirectionIn, in.Direction)
	assert.True(t, in.Failed)
	assert.Equal(t, "0", in.Value)
}

func TestHistory_NoTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer server.Close()

	hist, err := NewHistoryFetcher(HistoryConfig{URL: server.URL, Logger: logger.NewDiscard("test")}).
		Fetch(context.Background(), historyAddr)
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, hist.Source)
	assert.Empty(t, hist.Transactions)
}

func TestHistory_FallbackOnAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
	}))
	defer server.Close()

	hist, err := NewHistoryFetcher(HistoryConfig{URL: server.URL, Seed: 3, Logger: logger.NewDiscard("test")}).
		Fetch(context.Background(), historyAddr)
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, hist.Source)
	require.Len(t, hist.Transactions, 5)

	for i, tx := range hist.Transactions {
		assert.Len(t, tx.Hash, 66)
		assert.True(t, chain.IsAddress(tx.From) && chain.IsAddress(tx.To))
		if i > 0 {
			assert.True(t, tx.Timestamp.Before(hist.Transactions[i-1].Timestamp), "newest first")
		}
	}
	assert.Equal(t, DirectionIn, hist.Transactions[0].Direction)
	assert.Equal(t, DirectionOut, hist.Transactions[1].Direction)
}

func TestHistory_InvalidAddress(t *testing.T) {
	_, err := NewHistoryFetcher(HistoryConfig{Logger: logger.NewDiscard("test")}).Fetch(context.Background(), "0xAAA")
	assert.ErrorIs(t, err, svcerrors.ErrInvalidInput)
}

func TestDirection(t *testing.T) {
	assert.Equal(t, DirectionSelf, direction("a", "a", "a"))
	assert.Equal(t, DirectionOut, direction("a", "a", "b"))
	assert.Equal(t, DirectionIn, direction("a", "b", "a"))
}
