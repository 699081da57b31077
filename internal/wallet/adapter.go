// Package wallet implements the wallet session adapter: one connection
// state over a chain.Provider, with balance, transfers, fee data and account
// change notifications.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// State is the wallet connection state. Balance is only meaningful while
// Connected.
type State struct {
	Address    string `json:"address"`
	Balance    string `json:"balance"`
	ChainID    string `json:"chain_id,omitempty"`
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	// MetaMask mirrors the provider's isMetaMask flag at connect time.
	MetaMask bool `json:"metamask"`
}

// Options tunes an Adapter.
type Options struct {
	// Codec converts amounts. Defaults to the manual codec.
	Codec chain.Codec
	// Fees is the fee source. When nil it is detected on first use.
	Fees chain.FeeSource
	// RefreshTimeout bounds background balance refreshes.
	RefreshTimeout time.Duration
	// RequireMetaMask makes Connect refuse providers that do not identify
	// as MetaMask.
	RequireMetaMask bool
	Logger          *logger.Logger
}

// Adapter owns the wallet session.
type Adapter struct {
	provider chain.Provider
	codec    chain.Codec
	timeout  time.Duration
	metaMask bool
	log      *logger.Logger

	feesMu sync.Mutex
	fees   chain.FeeSource

	mu      sync.RWMutex
	state   State
	subs    map[int]func(State)
	nextSub int
	closed  bool

	unsubscribe []func()
	refreshes   sync.WaitGroup
}

// New creates an adapter. provider may be nil, in which case every
// operation fails with PROVIDER_MISSING.
func New(provider chain.Provider, opts Options) *Adapter {
	if opts.Codec == nil {
		opts.Codec = chain.ResolveCodec(chain.CodecManual)
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("wallet")
	}

	a := &Adapter{
		provider: provider,
		codec:    opts.Codec,
		fees:     opts.Fees,
		timeout:  opts.RefreshTimeout,
		metaMask: opts.RequireMetaMask,
		log:      opts.Logger,
		subs:     make(map[int]func(State)),
	}
	if provider != nil {
		a.unsubscribe = append(a.unsubscribe,
			provider.On(chain.EventAccountsChanged, a.onAccountsChanged),
			provider.On(chain.EventDisconnect, func(json.RawMessage) { a.Disconnect() }),
		)
	}
	return a
}

// Codec returns the active amount codec.
func (a *Adapter) Codec() chain.Codec { return a.codec }

// State returns a copy of the current state.
func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Subscribe registers fn for state changes and returns its unsubscribe.
func (a *Adapter) Subscribe(fn func(State)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.subs, id)
		})
	}
}

// Connect requests account access and loads chain id and balance.
func (a *Adapter) Connect(ctx context.Context) (State, error) {
	if a.provider == nil || !a.provider.Available() {
		return State{}, svcerrors.ProviderMissing()
	}
	isMetaMask := a.provider.IsMetaMask()
	if a.metaMask && !isMetaMask {
		a.log.Warn("connect refused: provider does not identify as MetaMask")
		return State{}, svcerrors.ProviderMissing().WithDetails("reason", "provider is not MetaMask")
	}

	a.update(func(s *State) { s.Connecting = true })

	accounts, err := a.requestAccounts(ctx)
	if err != nil {
		a.update(func(s *State) { s.Connecting = false })
		return State{}, connectError(err)
	}
	if len(accounts) == 0 {
		a.update(func(s *State) { s.Connecting = false })
		return State{}, svcerrors.ProviderError("wallet returned no accounts", nil)
	}
	address := chain.NormalizeAddress(accounts[0])

	var chainID string
	if raw, err := a.provider.Request(ctx, "eth_chainId"); err == nil {
		_ = json.Unmarshal(raw, &chainID)
	} else {
		a.log.WithError(err).Warn("eth_chainId failed")
	}

	balance, err := a.GetBalance(ctx, address)
	if err != nil {
		a.log.WithError(err).WithField("address", address).Warn("balance fetch after connect failed")
	}

	state := a.update(func(s *State) {
		*s = State{Address: address, Balance: balance, ChainID: chainID, Connected: true, MetaMask: isMetaMask}
	})
	a.log.WithFields(map[string]interface{}{
		"address":     address,
		"chain_id":    chainID,
		"is_metamask": isMetaMask,
	}).Info("wallet connected")
	return state, nil
}

// requestAccounts asks for permission, falling back to eth_accounts on
// nodes that do not implement eth_requestAccounts.
func (a *Adapter) requestAccounts(ctx context.Context) ([]string, error) {
	raw, err := a.provider.Request(ctx, "eth_requestAccounts")
	if err != nil && chain.IsUnsupportedMethod(err) {
		raw, err = a.provider.Request(ctx, "eth_accounts")
	}
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func connectError(err error) error {
	switch {
	case errors.Is(err, chain.ErrNoProvider):
		return svcerrors.ProviderMissing()
	case chain.IsUserRejected(err):
		return svcerrors.UserRejected(err)
	default:
		return svcerrors.ProviderError("wallet connect failed", err)
	}
}

// Disconnect clears the connection state. The provider keeps its permission
// grant; a later Connect will not prompt again on most wallets.
func (a *Adapter) Disconnect() {
	a.mu.RLock()
	wasConnected := a.state.Connected || a.state.Address != ""
	a.mu.RUnlock()

	a.update(func(s *State) { *s = State{} })
	if wasConnected {
		a.log.Info("wallet disconnected")
	}
}

// GetBalance returns the balance of address in ether.
func (a *Adapter) GetBalance(ctx context.Context, address string) (string, error) {
	if !chain.IsAddress(address) {
		return "", svcerrors.InvalidInput("address", "must be a 0x-prefixed 20-byte hex address")
	}
	if a.provider == nil {
		return "", svcerrors.ProviderMissing()
	}

	raw, err := a.provider.Request(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		if errors.Is(err, chain.ErrNoProvider) {
			return "", svcerrors.ProviderMissing()
		}
		return "", svcerrors.ProviderError("balance request failed", err)
	}
	wei, err := chain.ParseQuantity(raw)
	if err != nil {
		return "", svcerrors.ProviderError("malformed balance", err)
	}
	return a.codec.FromWei(wei), nil
}

// SendNativeTransfer sends amount ether from the connected account to to and
// returns the transaction hash. Address and balance are refreshed together
// afterwards.
func (a *Adapter) SendNativeTransfer(ctx context.Context, to, amount string) (string, error) {
	if a.provider == nil || !a.provider.Available() {
		return "", svcerrors.ProviderMissing()
	}
	from := a.State()
	if !from.Connected {
		return "", svcerrors.ProviderError("wallet not connected", nil)
	}
	if !chain.IsAddress(to) {
		return "", svcerrors.InvalidInput("to", "must be a 0x-prefixed 20-byte hex address")
	}
	wei, err := a.codec.ToWei(amount)
	if err != nil {
		return "", svcerrors.InvalidInput("amount", err.Error())
	}
	if wei.Sign() <= 0 {
		return "", svcerrors.InvalidInput("amount", "must be greater than zero")
	}

	tx := map[string]string{
		"from":  from.Address,
		"to":    chain.NormalizeAddress(to),
		"value": hexutil.EncodeBig(wei),
	}
	raw, err := a.provider.Request(ctx, "eth_sendTransaction", tx)
	if err != nil {
		return "", transferError(err)
	}

	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", svcerrors.TransferFailed(err)
	}
	a.log.WithField("tx_hash", hash).WithField("value_wei", wei.String()).Info("native transfer submitted")

	a.refresh(ctx)
	return hash, nil
}

func transferError(err error) error {
	switch {
	case errors.Is(err, chain.ErrNoProvider):
		return svcerrors.ProviderMissing()
	case chain.IsUserRejected(err):
		return svcerrors.UserRejected(err)
	case strings.Contains(strings.ToLower(err.Error()), "insufficient funds"):
		return svcerrors.InsufficientFunds(err)
	default:
		return svcerrors.TransferFailed(err)
	}
}

// FeeData returns current fee data from the fee source, detecting it on
// first use when none was configured.
func (a *Adapter) FeeData(ctx context.Context) (chain.FeeData, error) {
	if a.provider == nil || !a.provider.Available() {
		return chain.FeeData{}, svcerrors.ProviderMissing()
	}

	a.feesMu.Lock()
	if a.fees == nil {
		a.fees = chain.DetectFeeSource(ctx, a.provider)
		a.log.WithField("fee_model", a.fees.Name()).Info("fee source selected")
	}
	fees := a.fees
	a.feesMu.Unlock()

	data, err := fees.FeeData(ctx, a.provider)
	if err != nil {
		return chain.FeeData{}, svcerrors.ProviderError("fee data request failed", err)
	}
	return data, nil
}

// refresh re-reads the current account and its balance in one step.
func (a *Adapter) refresh(ctx context.Context) {
	raw, err := a.provider.Request(ctx, "eth_accounts")
	if err != nil {
		a.log.WithError(err).Warn("account refresh failed")
		return
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil || len(accounts) == 0 {
		a.Disconnect()
		return
	}

	address := chain.NormalizeAddress(accounts[0])
	balance, err := a.GetBalance(ctx, address)
	if err != nil {
		a.log.WithError(err).Warn("balance refresh failed")
	}
	a.update(func(s *State) {
		if s.Connected {
			s.Address = address
			s.Balance = balance
		}
	})
}

// onAccountsChanged runs on the provider's event goroutine, so balance
// reads happen in the background.
func (a *Adapter) onAccountsChanged(data json.RawMessage) {
	var accounts []string
	if err := json.Unmarshal(data, &accounts); err != nil {
		a.log.WithError(err).Warn("malformed accountsChanged payload")
		return
	}
	if len(accounts) == 0 {
		a.Disconnect()
		return
	}

	a.mu.Lock()
	if !a.state.Connected || a.closed {
		a.mu.Unlock()
		return
	}
	address := chain.NormalizeAddress(accounts[0])
	a.refreshes.Add(1)
	a.mu.Unlock()

	a.log.WithField("address", address).Info("wallet account switched")
	go func() {
		defer a.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		balance, err := a.GetBalance(ctx, address)
		if err != nil {
			a.log.WithError(err).Warn("balance refresh after account switch failed")
		}
		a.update(func(s *State) {
			if s.Connected {
				s.Address = address
				s.Balance = balance
			}
		})
	}()
}

// update applies fn under the lock and notifies subscribers when the state
// changed.
func (a *Adapter) update(fn func(*State)) State {
	a.mu.Lock()
	before := a.state
	fn(&a.state)
	after := a.state
	var subs []func(State)
	if after != before {
		subs = make([]func(State), 0, len(a.subs))
		for _, s := range a.subs {
			subs = append(subs, s)
		}
	}
	a.mu.Unlock()

	for _, s := range subs {
		s(after)
	}
	return after
}

// Close removes provider subscriptions and waits for background refreshes.
// The provider itself is not closed.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	a.refreshes.Wait()
}
