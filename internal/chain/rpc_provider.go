package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// RPCConfig holds node provider configuration.
type RPCConfig struct {
	URL          string
	PollInterval time.Duration
	Timeout      time.Duration
}

// RPCProvider talks to a node JSON-RPC endpoint (for example a dev node with
// unlocked accounts). Account changes are detected by polling eth_accounts.
type RPCProvider struct {
	client    *rpc.Client
	cfg       RPCConfig
	log       *logger.Logger
	listeners listeners

	mu       sync.RWMutex
	accounts []string
	polled   bool
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// DialRPC connects to cfg.URL and starts account polling.
func DialRPC(ctx context.Context, cfg RPCConfig, log *logger.Logger) (*RPCProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	client, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewRPCProvider(client, cfg, log), nil
}

// NewRPCProvider wraps an existing client and starts account polling.
func NewRPCProvider(client *rpc.Client, cfg RPCConfig, log *logger.Logger) *RPCProvider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("chain-rpc")
	}

	p := &RPCProvider{
		client: client,
		cfg:    cfg,
		log:    log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.pollAccounts()
	return p
}

// Request implements Provider.
func (p *RPCProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if !p.Available() {
		return nil, ErrNoProvider
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, toRPCError(err)
	}
	return raw, nil
}

// On implements Provider.
func (p *RPCProvider) On(event string, handler func(json.RawMessage)) func() {
	return p.listeners.on(event, handler)
}

// IsMetaMask implements Provider. A node is never MetaMask.
func (p *RPCProvider) IsMetaMask() bool { return false }

// Available implements Provider.
func (p *RPCProvider) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Close stops polling and closes the connection.
func (p *RPCProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	p.client.Close()
	return nil
}

func (p *RPCProvider) pollAccounts() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.checkAccounts()
		}
	}
}

func (p *RPCProvider) checkAccounts() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		p.log.WithError(err).Debug("eth_accounts poll failed")
		return
	}

	p.mu.Lock()
	changed := p.polled && !equalAccounts(p.accounts, accounts)
	p.accounts = accounts
	p.polled = true
	p.mu.Unlock()

	if changed {
		if accounts == nil {
			accounts = []string{}
		}
		data, _ := json.Marshal(accounts)
		p.listeners.emit(EventAccountsChanged, data)
	}
}

func equalAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if NormalizeAddress(a[i]) != NormalizeAddress(b[i]) {
			return false
		}
	}
	return true
}

// toRPCError converts go-ethereum rpc errors into *RPCError.
func toRPCError(err error) error {
	var codeErr rpc.Error
	if !errors.As(err, &codeErr) {
		return err
	}
	out := &RPCError{Code: codeErr.ErrorCode(), Message: codeErr.Error()}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		out.Data, _ = json.Marshal(dataErr.ErrorData())
	}
	return out
}
