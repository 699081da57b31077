// Package httpapi exposes the dashboard over a local JSON API.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
	"github.com/R3E-Network/wallet_dashboard/internal/linkage"
	"github.com/R3E-Network/wallet_dashboard/internal/market"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/internal/middleware"
	"github.com/R3E-Network/wallet_dashboard/internal/wallet"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// Identity is the session store surface. *identity.Store implements it.
type Identity interface {
	CurrentUser() *identity.User
	SignUp(ctx context.Context, email, password, displayName string) (*identity.User, error)
	SignIn(ctx context.Context, email, password string) (*identity.User, error)
	StartOAuth(provider string) (authURL, state string, err error)
	CompleteOAuth(ctx context.Context, state, code string) (*identity.User, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	UpdateDisplayName(ctx context.Context, name string) (*identity.User, error)
	UploadAvatar(ctx context.Context, data []byte, contentType string) (*identity.User, error)
}

// Wallet is the wallet session surface. *wallet.Adapter implements it.
type Wallet interface {
	State() wallet.State
	Connect(ctx context.Context) (wallet.State, error)
	Disconnect()
	GetBalance(ctx context.Context, address string) (string, error)
	SendNativeTransfer(ctx context.Context, to, amount string) (string, error)
	FeeData(ctx context.Context) (chain.FeeData, error)
}

// Linker is the wallet linkage surface. *linkage.Linker implements it.
type Linker interface {
	LinkWallet(ctx context.Context, user *identity.User, address string) (linkage.LinkResult, error)
	GetLinkedWallets(ctx context.Context, user *identity.User) []string
}

// Market is the presentation data surface. *market.Service implements it.
type Market interface {
	Gas(ctx context.Context) market.GasPrices
	Prices(ctx context.Context) []market.Price
	History(ctx context.Context, address string) (market.History, error)
	Tokens(ctx context.Context) market.TokenList
	Quote(ctx context.Context, from, to, amount string) (market.SwapQuote, error)
	Refresh(ctx context.Context)
}

// Config wires a Server. Identity is nil when the identity parameters are
// incomplete; IdentityMissing then names them.
type Config struct {
	Identity        Identity
	IdentityMissing []string
	Wallet          Wallet
	WalletProvider  string
	Linker          Linker
	Diagnostics     *linkage.DiagnosticLog
	Market          Market
	// Bridge serves the wallet bridge websocket when the bridge provider is
	// in use.
	Bridge http.Handler

	Metrics        *metrics.Metrics
	AllowedOrigins []string
	RateLimit      int
	RateBurst      int
	Logger         *logger.Logger
}

// Server holds the handlers.
type Server struct {
	cfg     Config
	log     *logger.Logger
	limiter *middleware.RateLimiter
	handler http.Handler
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("httpapi")
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = linkage.NewDiagnosticLog(0)
	}
	if cfg.Market == nil {
		cfg.Market = market.NewService(market.ServiceConfig{Logger: cfg.Logger.Named("market")})
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger.Named("ratelimit")),
	}
	// CORS wraps the router so preflights are answered before method
	// matching rejects them.
	s.handler = middleware.Tracing(middleware.NewCORS(cfg.AllowedOrigins).Handler(s.routes()))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RateLimiter exposes the limiter so callers can run its cleanup loop.
func (s *Server) RateLimiter() *middleware.RateLimiter { return s.limiter }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorBody{Error: httputil.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "no route for " + r.Method + " " + r.URL.Path,
			TraceID: logger.GetTraceID(r.Context()),
		}})
	})

	users := s.users()
	r.Use(
		middleware.Metrics(s.cfg.Metrics),
		middleware.Logging(s.log.Named("http")),
		middleware.Session(users),
	)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/config/status", s.handleConfigStatus).Methods(http.MethodGet)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.cfg.Bridge != nil {
		r.Handle("/wallet/bridge", s.cfg.Bridge)
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.limiter.Handler)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/signup", s.handleSignUp).Methods(http.MethodPost)
	auth.HandleFunc("/signin", s.handleSignIn).Methods(http.MethodPost)
	auth.HandleFunc("/oauth/callback", s.handleOAuthCallback).Methods(http.MethodGet)
	auth.HandleFunc("/oauth/{provider}", s.handleStartOAuth).Methods(http.MethodGet)
	auth.HandleFunc("/signout", s.handleSignOut).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset", s.handlePasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/user", s.handleCurrentUser).Methods(http.MethodGet)
	auth.HandleFunc("/profile", s.handleUpdateProfile).Methods(http.MethodPut)
	auth.HandleFunc("/avatar", s.handleUploadAvatar).Methods(http.MethodPut)

	w := api.PathPrefix("/wallet").Subrouter()
	w.HandleFunc("/state", s.handleWalletState).Methods(http.MethodGet)
	w.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	w.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	w.HandleFunc("/balance", s.handleBalance).Methods(http.MethodGet)
	w.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	w.HandleFunc("/fees", s.handleFees).Methods(http.MethodGet)

	link := api.PathPrefix("/linkage").Subrouter()
	link.Use(s.requireLinkage, middleware.RequireUser(users))
	link.HandleFunc("/link", s.handleLink).Methods(http.MethodPost)
	link.HandleFunc("/wallets", s.handleLinkedWallets).Methods(http.MethodGet)
	link.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)

	m := api.PathPrefix("/market").Subrouter()
	m.HandleFunc("/gas", s.handleGas).Methods(http.MethodGet)
	m.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	m.HandleFunc("/history/{address}", s.handleHistory).Methods(http.MethodGet)
	m.HandleFunc("/tokens", s.handleTokens).Methods(http.MethodGet)
	m.HandleFunc("/quote", s.handleQuote).Methods(http.MethodPost)
	m.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	return r
}

// users never returns nil so session middleware works while identity is
// unconfigured.
func (s *Server) users() middleware.CurrentUser {
	if s.cfg.Identity == nil {
		return noUsers{}
	}
	return s.cfg.Identity
}

type noUsers struct{}

func (noUsers) CurrentUser() *identity.User { return nil }

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	entry := s.log.WithContext(r.Context()).WithError(err)
	if se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		entry.Warn("request error")
	} else {
		entry.Debug("request rejected")
	}
	httputil.WriteError(w, logger.GetTraceID(r.Context()), err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"identity_configured": s.cfg.Identity != nil,
		"wallet_connected":    s.cfg.Wallet != nil && s.cfg.Wallet.State().Connected,
	})
}

type configStatus struct {
	IdentityConfigured bool     `json:"identity_configured"`
	Missing            []string `json:"missing"`
	WalletProvider     string   `json:"wallet_provider"`
}

func (s *Server) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	missing := s.cfg.IdentityMissing
	if missing == nil {
		missing = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, configStatus{
		IdentityConfigured: s.cfg.Identity != nil,
		Missing:            missing,
		WalletProvider:     s.cfg.WalletProvider,
	})
}
