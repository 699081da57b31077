package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

const (
	keyGas     = "gas"
	keyPrices  = "prices"
	keyTokens  = "tokens"
	keyHistory = "history:"
)

// Schedules are cron specs for the pollers. An empty spec disables that
// poller; reads then fetch on cache miss.
type Schedules struct {
	Gas     string
	Prices  string
	History string
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Gas     *GasTracker
	Prices  *PriceFeed
	History *HistoryFetcher
	Tokens  *TokenFetcher
	Cache   Cache
	// CacheTTL bounds how stale a snapshot may be served.
	CacheTTL time.Duration
	// FetchTimeout bounds one poller tick.
	FetchTimeout time.Duration
	Schedules    Schedules
	// WatchAddress returns the address whose history the poller keeps warm.
	WatchAddress func() string
	QuoteSeed    int64
	Logger       *logger.Logger
}

// Service fronts the fetchers with a cache and cron pollers.
type Service struct {
	gas     *GasTracker
	prices  *PriceFeed
	history *HistoryFetcher
	tokens  *TokenFetcher
	quoter  *Quoter
	cache   Cache
	cfg     ServiceConfig
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewService creates a stopped service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("market")
	}
	if cfg.Gas == nil {
		cfg.Gas = NewGasTracker(GasTrackerConfig{Logger: cfg.Logger})
	}
	if cfg.Prices == nil {
		cfg.Prices = NewPriceFeed(PriceFeedConfig{Logger: cfg.Logger})
	}
	if cfg.History == nil {
		cfg.History = NewHistoryFetcher(HistoryConfig{Logger: cfg.Logger})
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewTokenFetcher(nil, "", 0, nil, cfg.Logger)
	}

	s := &Service{
		gas:     cfg.Gas,
		prices:  cfg.Prices,
		history: cfg.History,
		tokens:  cfg.Tokens,
		cache:   cfg.Cache,
		cfg:     cfg,
		log:     cfg.Logger,
	}
	s.quoter = NewQuoter(s, cfg.QuoteSeed)
	return s
}

// Gas returns cached gas tiers, fetching on miss.
func (s *Service) Gas(ctx context.Context) GasPrices {
	var prices GasPrices
	if s.cached(ctx, keyGas, &prices) {
		return prices
	}
	return s.refreshGas(ctx)
}

// Prices returns cached prices, fetching on miss.
func (s *Service) Prices(ctx context.Context) []Price {
	var prices []Price
	if s.cached(ctx, keyPrices, &prices) {
		return prices
	}
	return s.refreshPrices(ctx)
}

// History returns the cached history of address, fetching on miss.
func (s *Service) History(ctx context.Context, address string) (History, error) {
	if !chain.IsAddress(address) {
		return s.history.Fetch(ctx, address)
	}
	key := keyHistory + strings.ToLower(chain.NormalizeAddress(address))
	var h History
	if s.cached(ctx, key, &h) {
		return h, nil
	}
	return s.refreshHistory(ctx, address)
}

// Tokens returns the token list.
func (s *Service) Tokens(ctx context.Context) TokenList {
	var list TokenList
	if s.cached(ctx, keyTokens, &list) {
		return list
	}
	list = s.tokens.Fetch(ctx)
	s.store(ctx, keyTokens, list, s.ttlFor(list.Source.Live())*10)
	return list
}

// Quote returns a simulated swap quote from the current prices.
func (s *Service) Quote(ctx context.Context, from, to, amount string) (SwapQuote, error) {
	return s.quoter.Quote(ctx, from, to, amount)
}

// Refresh fetches every feed now and stores the results.
func (s *Service) Refresh(ctx context.Context) {
	s.refreshGas(ctx)
	s.refreshPrices(ctx)
	if s.cfg.WatchAddress != nil {
		if addr := s.cfg.WatchAddress(); chain.IsAddress(addr) {
			if _, err := s.refreshHistory(ctx, addr); err != nil {
				s.log.WithError(err).Warn("history refresh failed")
			}
		}
	}
}

func (s *Service) refreshGas(ctx context.Context) GasPrices {
	prices := s.gas.Fetch(ctx)
	s.store(ctx, keyGas, prices, s.ttlFor(prices.Source.Live()))
	return prices
}

func (s *Service) refreshPrices(ctx context.Context) []Price {
	prices := s.prices.Fetch(ctx)
	live := len(prices) > 0 && prices[0].Source.Live()
	s.store(ctx, keyPrices, prices, s.ttlFor(live))
	return prices
}

func (s *Service) refreshHistory(ctx context.Context, address string) (History, error) {
	h, err := s.history.Fetch(ctx, address)
	if err != nil {
		return History{}, err
	}
	s.store(ctx, keyHistory+strings.ToLower(h.Address), h, s.ttlFor(h.Source.Live()))
	return h, nil
}

// ttlFor keeps synthetic snapshots briefly so the live source is retried
// soon.
func (s *Service) ttlFor(live bool) time.Duration {
	if live {
		return s.cfg.CacheTTL
	}
	return s.cfg.CacheTTL / 4
}

func (s *Service) cached(ctx context.Context, key string, dst interface{}) bool {
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("market cache read failed")
		return false
	}
	return ok
}

func (s *Service) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("market cache write failed")
	}
}

// Start schedules the pollers. Ticks never overlap: a tick still running
// when the next one is due causes that one to be skipped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(s.log)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.log)), cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"gas", s.cfg.Schedules.Gas, func(ctx context.Context) { s.refreshGas(ctx) }},
		{"prices", s.cfg.Schedules.Prices, func(ctx context.Context) { s.refreshPrices(ctx) }},
		{"history", s.cfg.Schedules.History, s.tickHistory},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		if _, err := c.AddFunc(job.spec, func() { s.tick(job.name, job.run) }); err != nil {
			return fmt.Errorf("schedule %s poller %q: %w", job.name, job.spec, err)
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("pollers", len(c.Entries())).Info("market pollers started")
	return nil
}

// tick runs one poller with its own timeout. Stop does not cancel it.
func (s *Service) tick(name string, run func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	defer cancel()
	start := time.Now()
	run(ctx)
	s.log.WithField("poller", name).WithField("duration", time.Since(start).String()).Debug("poller tick")
}

func (s *Service) tickHistory(ctx context.Context) {
	if s.cfg.WatchAddress == nil {
		return
	}
	addr := s.cfg.WatchAddress()
	if !chain.IsAddress(addr) {
		return
	}
	if _, err := s.refreshHistory(ctx, addr); err != nil {
		s.log.WithError(err).Warn("history poll failed")
	}
}

// Stop removes all schedules and waits for running ticks, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	for _, e := range c.Entries() {
		c.Remove(e.ID)
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("market pollers stopped")
	return nil
}

// Running reports whether pollers are scheduled.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
