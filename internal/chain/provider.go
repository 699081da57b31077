// Package chain provides the wallet provider contract and the EVM helpers
// (amount codecs, fee sources, address normalisation) used by the wallet
// session adapter.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// EIP-1193 and JSON-RPC error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeMethodNotFound    = -32601
)

// Provider events.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventDisconnect      = "disconnect"
)

// Provider is an EIP-1193 style wallet provider.
type Provider interface {
	// Request sends a JSON-RPC request and returns the raw result.
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	// On registers handler for event and returns a function removing it.
	On(event string, handler func(data json.RawMessage)) (remove func())
	// IsMetaMask reports whether the provider identifies as MetaMask.
	IsMetaMask() bool
	// Available reports whether requests can currently be served.
	Available() bool
	Close() error
}

// RPCError is the error shape returned by providers.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrNoProvider is returned by Request while no provider is attached.
var ErrNoProvider = errors.New("no wallet provider attached")

// AsRPCError extracts an *RPCError from err.
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// IsUserRejected reports a request the user dismissed.
func IsUserRejected(err error) bool {
	rpcErr, ok := AsRPCError(err)
	return ok && rpcErr.Code == CodeUserRejected
}

// IsUnsupportedMethod reports a method the provider does not implement.
func IsUnsupportedMethod(err error) bool {
	rpcErr, ok := AsRPCError(err)
	return ok && (rpcErr.Code == CodeMethodNotFound || rpcErr.Code == CodeUnsupportedMethod)
}

// NormalizeAddress returns the EIP-55 checksum form of a valid hex address
// and the trimmed input otherwise.
func NormalizeAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if common.IsHexAddress(trimmed) {
		return common.HexToAddress(trimmed).Hex()
	}
	return trimmed
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(strings.ToLower(s), "0x") && common.IsHexAddress(s)
}

// listeners is the event registry shared by provider implementations.
// Handlers run outside the lock in registration order.
type listeners struct {
	mu       sync.Mutex
	next     int
	handlers map[string]map[int]func(json.RawMessage)
}

func (l *listeners) on(event string, handler func(json.RawMessage)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[string]map[int]func(json.RawMessage))
	}
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[int]func(json.RawMessage))
	}
	id := l.next
	l.next++
	l.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.handlers[event], id)
		})
	}
}

func (l *listeners) emit(event string, data json.RawMessage) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.handlers[event]))
	for id := range l.handlers[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(json.RawMessage), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, l.handlers[event][id])
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (l *listeners) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers[event])
}
