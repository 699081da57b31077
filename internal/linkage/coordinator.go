package linkage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
	"github.com/R3E-Network/wallet_dashboard/internal/wallet"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// WalletSource is the wallet side of the coordinator. *wallet.Adapter
// implements it.
type WalletSource interface {
	State() wallet.State
	Subscribe(fn func(wallet.State)) func()
}

// UserSource is the identity side of the coordinator. *identity.Store
// implements it.
type UserSource interface {
	CurrentUser() *identity.User
	Subscribe(fn func(*identity.User)) func()
}

// CoordinatorOptions tunes a Coordinator.
type CoordinatorOptions struct {
	// LinkTimeout bounds one LinkWallet call.
	LinkTimeout time.Duration
	// OnLinked observes every completed link.
	OnLinked func(LinkResult)
	Logger   *logger.Logger
}

type linkJob struct {
	sessionID string
	address   string
}

// Coordinator links the connected wallet to the signed-in user exactly once
// per (session, address). Links run on a single worker goroutine.
type Coordinator struct {
	linker *Linker
	wallet WalletSource
	users  UserSource
	opts   CoordinatorOptions
	log    *logger.Logger

	mu        sync.Mutex
	sessionID string
	seen      map[string]bool
	pending   []linkJob
	wake      chan struct{}

	unsubscribe []func()
	cancel      context.CancelFunc
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// NewCoordinator creates a stopped coordinator.
func NewCoordinator(linker *Linker, w WalletSource, users UserSource, opts CoordinatorOptions) *Coordinator {
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("linkage")
	}
	return &Coordinator{
		linker: linker,
		wallet: w,
		users:  users,
		opts:   opts,
		log:    opts.Logger,
		seen:   make(map[string]bool),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start subscribes to both sources and starts the worker. The current
// state is evaluated immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.unsubscribe = []func(){
		c.wallet.Subscribe(func(wallet.State) { c.evaluate() }),
		c.users.Subscribe(func(*identity.User) { c.evaluate() }),
	}

	go c.run(ctx)
	c.evaluate()
	c.log.Info("linkage coordinator started")
	return nil
}

// Stop unsubscribes from both sources and waits for the worker. A link in
// progress finishes first.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		for _, fn := range c.unsubscribe {
			fn()
		}
		c.mu.Lock()
		started := c.started
		cancel := c.cancel
		c.mu.Unlock()
		if !started {
			return
		}
		cancel()
		<-c.done
		c.log.Info("linkage coordinator stopped")
	})
}

// evaluate runs on subscriber callbacks and must not block.
func (c *Coordinator) evaluate() {
	user := c.users.CurrentUser()
	state := c.wallet.State()

	c.mu.Lock()
	defer c.mu.Unlock()

	if user == nil {
		if c.sessionID != "" {
			c.log.Debug("session ended; clearing linked addresses")
		}
		c.sessionID = ""
		c.seen = make(map[string]bool)
		c.pending = nil
		return
	}
	if user.SessionID != c.sessionID {
		c.sessionID = user.SessionID
		c.seen = make(map[string]bool)
		c.pending = nil
	}
	if !state.Connected || state.Address == "" {
		return
	}

	address := chain.NormalizeAddress(state.Address)
	if c.seen[address] {
		return
	}
	c.seen[address] = true
	c.pending = append(c.pending, linkJob{sessionID: user.SessionID, address: address})

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			job := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()

			c.link(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (c *Coordinator) link(ctx context.Context, job linkJob) {
	user := c.users.CurrentUser()
	if user == nil || user.SessionID != job.sessionID {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.LinkTimeout)
	defer cancel()

	result, err := c.linker.LinkWallet(ctx, user, job.address)
	if err != nil {
		c.log.WithError(err).WithField("address", job.address).Warn("wallet link failed")
		return
	}
	if c.opts.OnLinked != nil {
		c.opts.OnLinked(result)
	}
}
