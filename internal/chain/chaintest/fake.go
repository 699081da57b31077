// Package chaintest provides a scriptable chain.Provider for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
)

// Call records one request.
type Call struct {
	Method string
	Params []interface{}
}

// Provider answers requests from per-method handlers.
type Provider struct {
	mu         sync.Mutex
	handlers   map[string]func(params []interface{}) (interface{}, error)
	calls      []Call
	listeners  map[string]map[int]func(json.RawMessage)
	nextID     int
	available  bool
	isMetaMask bool
	closed     bool
}

var _ chain.Provider = (*Provider)(nil)

// New creates an available MetaMask-flavoured provider with no handlers.
func New() *Provider {
	return &Provider{
		handlers:   make(map[string]func([]interface{}) (interface{}, error)),
		listeners:  make(map[string]map[int]func(json.RawMessage)),
		available:  true,
		isMetaMask: true,
	}
}

// Handle scripts method with a handler.
func (p *Provider) Handle(method string, fn func(params []interface{}) (interface{}, error)) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = fn
	return p
}

// Result scripts method to always return result.
func (p *Provider) Result(method string, result interface{}) *Provider {
	return p.Handle(method, func([]interface{}) (interface{}, error) { return result, nil })
}

// Fail scripts method to always fail with err.
func (p *Provider) Fail(method string, err error) *Provider {
	return p.Handle(method, func([]interface{}) (interface{}, error) { return nil, err })
}

// SetMetaMask sets the isMetaMask flag.
func (p *Provider) SetMetaMask(isMetaMask bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isMetaMask = isMetaMask
}

// SetAvailable toggles availability.
func (p *Provider) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

// Request implements chain.Provider. Unscripted methods fail with -32601.
func (p *Provider) Request(_ context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Params: params})
	fn, ok := p.handlers[method]
	available := p.available
	p.mu.Unlock()

	if !available {
		return nil, chain.ErrNoProvider
	}
	if !ok {
		return nil, &chain.RPCError{Code: chain.CodeMethodNotFound, Message: "the method " + method + " does not exist"}
	}
	result, err := fn(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// On implements chain.Provider.
func (p *Provider) On(event string, handler func(json.RawMessage)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners[event] == nil {
		p.listeners[event] = make(map[int]func(json.RawMessage))
	}
	id := p.nextID
	p.nextID++
	p.listeners[event][id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners[event], id)
	}
}

// Emit delivers event to registered handlers synchronously.
func (p *Provider) Emit(event string, data interface{}) {
	raw, _ := json.Marshal(data)

	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners[event]))
	for id := range p.listeners[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(json.RawMessage), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, p.listeners[event][id])
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}

// Listeners returns the number of handlers registered for event.
func (p *Provider) Listeners(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[event])
}

// Calls returns the requests received so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how many times method was requested.
func (p *Provider) CallCount(method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// IsMetaMask implements chain.Provider.
func (p *Provider) IsMetaMask() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isMetaMask
}

// Available implements chain.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available && !p.closed
}

// Close implements chain.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
