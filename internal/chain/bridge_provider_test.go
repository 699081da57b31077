package chain

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// attachPage connects a fake bridge page that answers requests with answer.
func attachPage(t *testing.T, b *BridgeProvider, answer func(bridgeFrame) bridgeFrame) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(bridgeFrame{Type: frameHello, IsMetaMask: true}))
	require.Eventually(t, b.Available, time.Second, 5*time.Millisecond)

	go func() {
		for {
			var frame bridgeFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == frameRequest && answer != nil {
				reply := answer(frame)
				reply.Type = frameResponse
				reply.ID = frame.ID
				if conn.WriteJSON(reply) != nil {
					return
				}
			}
		}
	}()
	return conn
}

func TestBridgeProvider_UnavailableWithoutPage(t *testing.T) {
	b := NewBridgeProvider(BridgeConfig{}, logger.NewDiscard("test"))

	assert.False(t, b.Available())
	assert.False(t, b.IsMetaMask())
	_, err := b.Request(context.Background(), "eth_accounts")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestBridgeProvider_RelaysRequests(t *testing.T) {
	b := NewBridgeProvider(BridgeConfig{}, logger.NewDiscard("test"))
	attachPage(t, b, func(req bridgeFrame) bridgeFrame {
		switch req.Method {
		case "eth_requestAccounts":
			return bridgeFrame{Result: json.RawMessage(`["0xAAA"]`)}
		default:
			return bridgeFrame{Error: &RPCError{Code: CodeUserRejected, Message: "User rejected the request."}}
		}
	})

	assert.True(t, b.IsMetaMask())

	raw, err := b.Request(context.Background(), "eth_requestAccounts")
	require.NoError(t, err)
	assert.JSONEq(t, `["0xAAA"]`, string(raw))

	_, err = b.Request(context.Background(), "eth_sendTransaction", map[string]string{"to": "0x1"})
	assert.True(t, IsUserRejected(err))
}

func TestBridgeProvider_ForwardsEvents(t *testing.T) {
	b := NewBridgeProvider(BridgeConfig{}, logger.NewDiscard("test"))
	conn := attachPage(t, b, nil)

	got := make(chan string, 1)
	b.On(EventAccountsChanged, func(data json.RawMessage) { got <- string(data) })

	require.NoError(t, conn.WriteJSON(bridgeFrame{Type: frameEvent, Event: EventAccountsChanged, Data: json.RawMessage(`["0xBBB"]`)}))

	select {
	case data := <-got:
		assert.JSONEq(t, `["0xBBB"]`, data)
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestBridgeProvider_DisconnectFailsPending(t *testing.T) {
	b := NewBridgeProvider(BridgeConfig{}, logger.NewDiscard("test"))
	conn := attachPage(t, b, nil)

	disconnected := make(chan struct{}, 1)
	b.On(EventDisconnect, func(json.RawMessage) { disconnected <- struct{}{} })

	errs := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), "eth_requestAccounts")
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errs:
		rpcErr, ok := AsRPCError(err)
		require.True(t, ok)
		assert.Equal(t, CodeDisconnected, rpcErr.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect not emitted")
	}
	assert.False(t, b.Available())
}

func TestBridgeProvider_RequestTimeout(t *testing.T) {
	b := NewBridgeProvider(BridgeConfig{}, logger.NewDiscard("test"))
	attachPage(t, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.Request(ctx, "eth_requestAccounts")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridgeProvider_CloseRefusesPages(t *testing.T) {
	b := NewBridgeProvider(BridgeConfig{}, logger.NewDiscard("test"))
	require.NoError(t, b.Close())

	server := httptest.NewServer(b)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}
