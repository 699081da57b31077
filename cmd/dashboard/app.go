package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/internal/config"
	"github.com/R3E-Network/wallet_dashboard/internal/httpapi"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
	"github.com/R3E-Network/wallet_dashboard/internal/linkage"
	"github.com/R3E-Network/wallet_dashboard/internal/market"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
	"github.com/R3E-Network/wallet_dashboard/internal/storage/postgres"
	supastore "github.com/R3E-Network/wallet_dashboard/internal/storage/supabase"
	"github.com/R3E-Network/wallet_dashboard/internal/wallet"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
	"github.com/R3E-Network/wallet_dashboard/supabase/client"
)

const clientInfo = "wallet-dashboard/1.0"

// app owns every long-lived component.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	provider    chain.Provider
	bridge      *chain.BridgeProvider
	adapter     *wallet.Adapter
	identity    *identity.Store
	profiles    storage.ProfileStore
	coordinator *linkage.Coordinator
	market      *market.Service
	redis       *market.RedisCache
	db          *sql.DB
	server      *httpapi.Server

	stopCleanup func()
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New("")}
	if err := a.initWallet(ctx); err != nil {
		return nil, err
	}
	if err := a.initIdentity(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.initMarket(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	diagnostics := linkage.NewDiagnosticLog(0)
	apiCfg := httpapi.Config{
		IdentityMissing: cfg.Identity.Missing(),
		Wallet:          a.adapter,
		WalletProvider:  cfg.Wallet.Provider,
		Diagnostics:     diagnostics,
		Market:          a.market,
		Metrics:         a.metrics,
		AllowedOrigins:  cfg.Server.Origins(),
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		Logger:          log.Named("httpapi"),
	}
	if a.bridge != nil {
		apiCfg.Bridge = a.bridge
	}
	if a.identity != nil {
		linker := linkage.NewLinker(a.profiles, a.identity, diagnostics.Record, a.metrics, log.Named("linkage"))
		a.coordinator = linkage.NewCoordinator(linker, a.adapter, a.identity, linkage.CoordinatorOptions{
			Logger: log.Named("linkage"),
		})
		apiCfg.Identity = a.identity
		apiCfg.Linker = linker
	}
	a.server = httpapi.New(apiCfg)
	return a, nil
}

func (a *app) initWallet(ctx context.Context) error {
	wcfg := a.cfg.Wallet
	log := a.log.Named("wallet")
	switch wcfg.Provider {
	case "rpc":
		p, err := chain.DialRPC(ctx, chain.RPCConfig{
			URL:          wcfg.RPCURL,
			PollInterval: wcfg.AccountPollInterval,
			Timeout:      wcfg.RequestTimeout,
		}, log.Named("chain-rpc"))
		if err != nil {
			return err
		}
		a.provider = p
	default:
		a.bridge = chain.NewBridgeProvider(chain.BridgeConfig{
			AllowedOrigins: a.cfg.Server.Origins(),
			RequestTimeout: wcfg.RequestTimeout,
		}, log.Named("wallet-bridge"))
		a.provider = a.bridge
	}
	a.adapter = wallet.New(a.provider, wallet.Options{
		Codec:           chain.ResolveCodec(wcfg.Codec),
		RequireMetaMask: wcfg.RequireMetaMask,
		Logger:          log,
	})
	log.WithFields(map[string]interface{}{"provider": wcfg.Provider, "codec": a.adapter.Codec().Name()}).Info("wallet adapter ready")
	return nil
}

// initIdentity leaves a.identity nil when parameters are missing; the API
// then reports CONFIGURATION_ERROR on identity routes.
func (a *app) initIdentity(ctx context.Context) error {
	log := a.log.Named("identity")
	if err := a.cfg.Identity.Validate(); err != nil {
		log.WithField("missing", a.cfg.Identity.Missing()).Warn("identity service not configured; sign-in disabled")
		return nil
	}

	breaker := client.NewCircuitBreaker(client.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		OnStateChange: func(from, to client.CircuitState) {
			a.metrics.SetCircuitState(int(to))
			log.WithFields(map[string]interface{}{"from": from.String(), "to": to.String()}).Warn("identity circuit state changed")
		},
	})
	c, _, err := client.NewResilient(client.Config{
		URL:        a.cfg.Identity.BaseURL(),
		APIKey:     a.cfg.Identity.APIKey,
		ClientInfo: clientInfo,
	}, client.DefaultRetryConfig(), breaker)
	if err != nil {
		return fmt.Errorf("identity client: %w", err)
	}

	// The supabase profile store reads the session token lazily, so it can
	// be built before the store that owns the token.
	var store *identity.Store
	profiles, err := a.profileStore(ctx, c, func(ctx context.Context) string { return store.Token(ctx) })
	if err != nil {
		return err
	}

	store, err = identity.New(identity.Options{
		Auth:             c.Auth(),
		Profiles:         profiles,
		Avatars:          c.Storage().From(a.cfg.Identity.StorageBucket),
		OAuthRedirectURL: a.cfg.Server.OAuthRedirectURL,
		PasswordResetURL: a.cfg.Server.PasswordResetURL,
		JWTSecret:        []byte(a.cfg.Identity.JWTSecret),
		Logger:           log,
	})
	if err != nil {
		return err
	}
	a.identity = store
	a.profiles = profiles
	log.WithField("url", c.BaseURL()).Info("identity service configured")
	return nil
}

// profileStore prefers a direct database connection, then the identity
// backend's document API.
func (a *app) profileStore(ctx context.Context, c *client.Client, token supastore.TokenSource) (storage.ProfileStore, error) {
	switch {
	case a.cfg.DatabaseURL != "":
		db, err := postgres.Open(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.log.Info("profile documents stored in postgres")
		return postgres.New(db), nil
	default:
		return supastore.New(c, token), nil
	}
}

func (a *app) initMarket(ctx context.Context) error {
	mc := a.cfg.Market
	log := a.log.Named("market")

	var cache market.Cache
	if a.cfg.RedisURL != "" {
		rc, err := market.OpenRedisCache(ctx, a.cfg.RedisURL, "")
		if err != nil {
			return err
		}
		a.redis = rc
		cache = rc
	}

	a.market = market.NewService(market.ServiceConfig{
		Gas: market.NewGasTracker(market.GasTrackerConfig{
			Fees:    a.adapter,
			URL:     mc.Gas.URL,
			APIKey:  mc.Gas.APIKey,
			Metrics: a.metrics,
			Logger:  log.Named("market-gas"),
		}),
		Prices: market.NewPriceFeed(market.PriceFeedConfig{
			URL:      mc.Prices.URL,
			APIKey:   mc.Prices.APIKey,
			Assets:   mc.Assets,
			Currency: mc.QuoteAsset,
			Metrics:  a.metrics,
			Logger:   log.Named("market-prices"),
		}),
		History: market.NewHistoryFetcher(market.HistoryConfig{
			URL:     mc.History.URL,
			APIKey:  mc.History.APIKey,
			Codec:   a.adapter.Codec(),
			Metrics: a.metrics,
			Logger:  log.Named("market-history"),
		}),
		Tokens:       market.NewTokenFetcher(nil, mc.Tokens.URL, 1, a.metrics, log.Named("market-tokens")),
		Cache:        cache,
		CacheTTL:     mc.CacheTTL,
		FetchTimeout: mc.FetchTimeout,
		Schedules: market.Schedules{
			Gas:     mc.Gas.Schedule,
			Prices:  mc.Prices.Schedule,
			History: mc.History.Schedule,
		},
		WatchAddress: func() string { return a.adapter.State().Address },
		Logger:       log,
	})
	return nil
}

// start launches background work. The HTTP listener is started by run.
func (a *app) start(ctx context.Context) error {
	if err := a.market.Start(ctx); err != nil {
		return err
	}
	if a.coordinator != nil {
		if err := a.coordinator.Start(ctx); err != nil {
			return err
		}
	}
	a.stopCleanup = a.server.RateLimiter().StartCleanup(time.Minute)
	return nil
}

// close stops everything newApp and start created, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.stopCleanup != nil {
		a.stopCleanup()
	}
	if a.coordinator != nil {
		a.coordinator.Stop()
	}
	if a.market != nil {
		if err := a.market.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("market pollers did not stop in time")
		}
	}
	if a.identity != nil {
		a.identity.Wait()
	}
	if a.adapter != nil {
		a.adapter.Close()
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.log.WithError(err).Warn("wallet provider close failed")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) handler() http.Handler { return a.server }
