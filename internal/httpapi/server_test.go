package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	"github.com/R3E-Network/wallet_dashboard/internal/chain/chaintest"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
	"github.com/R3E-Network/wallet_dashboard/internal/linkage"
	"github.com/R3E-Network/wallet_dashboard/internal/metrics"
	"github.com/R3E-Network/wallet_dashboard/internal/storage/memory"
	"github.com/R3E-Network/wallet_dashboard/internal/wallet"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

const (
	addrA = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	addrB = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

// fakeIdentity signs in anyone whose password is "secret".
type fakeIdentity struct {
	mu         sync.Mutex
	user       *identity.User
	resets     []string
	lastAvatar string
}

func (f *fakeIdentity) CurrentUser() *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user.Clone()
}

func (f *fakeIdentity) signIn(email string) *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = &identity.User{UID: "uid-" + email, Email: email, WalletAddresses: []string{}, SessionID: "s1"}
	return f.user.Clone()
}

func (f *fakeIdentity) SignUp(_ context.Context, email, password, displayName string) (*identity.User, error) {
	if email == "pending@example.com" {
		return nil, nil
	}
	u := f.signIn(email)
	u.DisplayName = displayName
	return u, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) (*identity.User, error) {
	if password != "secret" {
		return nil, svcerrors.AuthServiceError("Incorrect email or password.", nil)
	}
	return f.signIn(email), nil
}

func (f *fakeIdentity) StartOAuth(provider string) (string, string, error) {
	if provider != "github" {
		return "", "", svcerrors.InvalidInput("provider", "unsupported")
	}
	return "https://auth.example.com/authorize?provider=github", "state-1", nil
}

func (f *fakeIdentity) CompleteOAuth(_ context.Context, state, code string) (*identity.User, error) {
	if state != "state-1" {
		return nil, svcerrors.AuthServiceError("The sign-in attempt expired. Please try again.", nil)
	}
	return f.signIn("oauth@example.com"), nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = nil
	return nil
}

func (f *fakeIdentity) ResetPassword(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, email)
	return nil
}

func (f *fakeIdentity) UpdateDisplayName(_ context.Context, name string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil, svcerrors.NotAuthenticated("")
	}
	f.user.DisplayName = name
	return f.user.Clone(), nil
}

func (f *fakeIdentity) UploadAvatar(_ context.Context, data []byte, contentType string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil, svcerrors.NotAuthenticated("")
	}
	f.lastAvatar = contentType
	f.user.PhotoURL = "https://cdn.example.com/" + f.user.UID + "/avatar.png"
	return f.user.Clone(), nil
}

func (f *fakeIdentity) MergeWalletAddresses(uid string, addresses []string) ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil || f.user.UID != uid {
		return nil, false
	}
	for _, a := range addresses {
		found := false
		for _, b := range f.user.WalletAddresses {
			if chain.NormalizeAddress(a) == b {
				found = true
			}
		}
		if !found {
			f.user.WalletAddresses = append(f.user.WalletAddresses, chain.NormalizeAddress(a))
		}
	}
	return append([]string{}, f.user.WalletAddresses...), true
}

type testEnv struct {
	server   *Server
	identity *fakeIdentity
	provider *chaintest.Provider
	profiles *memory.Store
	metrics  *metrics.Metrics
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewDiscard("test")
	env := &testEnv{
		identity: &fakeIdentity{},
		provider: chaintest.New().
			Result("eth_requestAccounts", []string{addrA}).
			Result("eth_accounts", []string{addrA}).
			Result("eth_chainId", "0x1").
			Result("eth_getBalance", "0x14d1120d7b160000").
			Result("eth_sendTransaction", "0xhash").
			Result("eth_gasPrice", "0x4a817c800"),
		profiles: memory.New(),
		metrics:  metrics.New("test"),
	}
	adapter := wallet.New(env.provider, wallet.Options{Codec: chain.ResolveCodec(chain.CodecBigInt), Logger: log})
	t.Cleanup(adapter.Close)

	diagnostics := linkage.NewDiagnosticLog(10)
	env.server = New(Config{
		Identity:       env.identity,
		Wallet:         adapter,
		WalletProvider: "bridge",
		Linker:         linkage.NewLinker(env.profiles, env.identity, diagnostics.Record, env.metrics, log),
		Diagnostics:    diagnostics,
		Metrics:        env.metrics,
		AllowedOrigins: []string{"http://localhost:3000"},
		RateLimit:      100,
		RateBurst:      100,
		Logger:         log,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	decode(t, rec, &body)
	return body.Error.Code
}

func TestHealthAndConfig(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = env.do(t, http.MethodGet, "/config/status", nil)
	var status configStatus
	decode(t, rec, &status)
	assert.True(t, status.IdentityConfigured)
	assert.Equal(t, []string{}, status.Missing)
	assert.Equal(t, "bridge", status.WalletProvider)
}

func TestIdentityUnconfigured(t *testing.T) {
	s := New(Config{IdentityMissing: []string{"IDENTITY_API_KEY"}, Logger: logger.NewDiscard("test")})

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(`{"email":"a@b.c","password":"x"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body httputil.ErrorBody
	decode(t, rec, &body)
	assert.Equal(t, "CONFIGURATION_ERROR", body.Error.Code)
	assert.Equal(t, []interface{}{"IDENTITY_API_KEY"}, body.Error.Details["missing"])

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/status", nil))
	var status configStatus
	decode(t, rec, &status)
	assert.False(t, status.IdentityConfigured)
	assert.Equal(t, []string{"IDENTITY_API_KEY"}, status.Missing)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/linkage/wallets", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CONFIGURATION_ERROR", errorCode(t, rec))

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/linkage/link", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, []interface{}{"IDENTITY_API_KEY"}, body.Error.Details["missing"])
}

func TestAuthFlow(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/auth/signin", credentialsRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var failure httputil.ErrorBody
	decode(t, rec, &failure)
	assert.Equal(t, "AUTH_SERVICE_ERROR", failure.Error.Code)
	assert.Equal(t, "Incorrect email or password.", failure.Error.Message)

	rec = env.do(t, http.MethodPost, "/auth/signin", credentialsRequest{Email: "ada@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var signedIn userResponse
	decode(t, rec, &signedIn)
	assert.Equal(t, "uid-ada@example.com", signedIn.User.UID)

	rec = env.do(t, http.MethodPut, "/auth/profile", map[string]string{"display_name": "Ada"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &signedIn)
	assert.Equal(t, "Ada", signedIn.User.DisplayName)

	rec = env.do(t, http.MethodPost, "/auth/signout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, env.identity.CurrentUser())
}

func TestSignUp(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", credentialsRequest{Email: "new@example.com", Password: "pw", DisplayName: "New"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/signup", credentialsRequest{Email: "pending@example.com", Password: "pw"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp userResponse
	decode(t, rec, &resp)
	assert.True(t, resp.PendingConfirmation)
	assert.Nil(t, resp.User)

	rec = env.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "x", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
}

func TestOAuth(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/oauth/github", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var start map[string]string
	decode(t, rec, &start)
	assert.Equal(t, "state-1", start["state"])

	rec = env.do(t, http.MethodGet, "/auth/oauth/github?redirect=1", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "auth.example.com")

	rec = env.do(t, http.MethodGet, "/auth/oauth/callback?state=bogus&code=c", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/oauth/callback?error_description=access+denied", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/oauth/callback?state=state-1&code=c", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, env.identity.CurrentUser())
}

func TestPasswordReset(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/auth/password-reset", map[string]string{"email": "ada@example.com"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"ada@example.com"}, env.identity.resets)
}

func TestUploadAvatar(t *testing.T) {
	env := newEnv(t)
	env.identity.signIn("ada@example.com")

	req := httptest.NewRequest(http.MethodPut, "/auth/avatar", bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}))
	req.Header.Set("Content-Type", "image/png; charset=binary")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", env.identity.lastAvatar)

	req = httptest.NewRequest(http.MethodPut, "/auth/avatar", bytes.NewReader([]byte("x")))
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletEndpoints(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/wallet/balance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/wallet/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state wallet.State
	decode(t, rec, &state)
	assert.True(t, state.Connected)
	assert.Equal(t, addrA, state.Address)
	assert.Equal(t, "1.5", state.Balance)

	rec = env.do(t, http.MethodGet, "/wallet/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance map[string]string
	decode(t, rec, &balance)
	assert.Equal(t, "1.5", balance["balance"])

	rec = env.do(t, http.MethodPost, "/wallet/transfer", map[string]string{"to": addrB, "amount": "0.1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "0xhash")

	rec = env.do(t, http.MethodPost, "/wallet/transfer", map[string]string{"to": "nope", "amount": "0.1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/wallet/disconnect", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/wallet/state", nil)
	decode(t, rec, &state)
	assert.False(t, state.Connected)
}

func TestWalletProviderMissing(t *testing.T) {
	env := newEnv(t)
	env.provider.SetAvailable(false)

	rec := env.do(t, http.MethodPost, "/wallet/connect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PROVIDER_MISSING", errorCode(t, rec))
}

func TestLinkage(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/linkage/link", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.identity.signIn("ada@example.com")
	env.do(t, http.MethodPost, "/wallet/connect", nil)

	rec = env.do(t, http.MethodPost, "/linkage/link", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result linkage.LinkResult
	decode(t, rec, &result)
	assert.True(t, result.Linked)
	assert.True(t, result.Persisted)
	assert.Equal(t, []string{addrA}, result.WalletAddresses)

	rec = env.do(t, http.MethodPost, "/linkage/link", map[string]string{"address": strings.ToLower(addrB)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/linkage/wallets", nil)
	var wallets map[string][]string
	decode(t, rec, &wallets)
	assert.Equal(t, []string{addrA, addrB}, wallets["wallet_addresses"])

	doc, ok := env.profiles.Profile("uid-ada@example.com")
	require.True(t, ok)
	assert.Equal(t, []string{addrA, addrB}, doc.WalletAddresses)
}

func TestLinkageDiagnostics(t *testing.T) {
	env := newEnv(t)
	env.identity.signIn("ada@example.com")
	env.profiles.ErrorOnNextCall = svcerrors.DocumentStoreError(svcerrors.DocumentStorePermission, nil)

	rec := env.do(t, http.MethodPost, "/linkage/link", map[string]string{"address": addrB})
	require.Equal(t, http.StatusOK, rec.Code)
	var result linkage.LinkResult
	decode(t, rec, &result)
	assert.False(t, result.Persisted)
	assert.Equal(t, []string{addrB}, result.WalletAddresses)

	rec = env.do(t, http.MethodGet, "/linkage/diagnostics", nil)
	var diags map[string][]linkage.Diagnostic
	decode(t, rec, &diags)
	require.Len(t, diags["diagnostics"], 1)
	assert.Equal(t, svcerrors.DocumentStorePermission, diags["diagnostics"][0].Kind)
}

func TestMarketEndpoints(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/market/gas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"synthetic"`)

	rec = env.do(t, http.MethodGet, "/market/history/"+addrA, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/market/history/0xAAA", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/market/tokens", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/market/quote", map[string]string{"from": "ETH", "to": "ETH", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/market/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestNotFoundAndPreflight(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	req := httptest.NewRequest(http.MethodOptions, "/wallet/transfer", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t)
	env.do(t, http.MethodPost, "/wallet/connect", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_wallet_events_total{event="connect"} 1`)
	assert.Contains(t, rec.Body.String(), `path="/wallet/connect"`)
}

func TestRateLimited(t *testing.T) {
	s := New(Config{RateLimit: 1, RateBurst: 1, Logger: logger.NewDiscard("test")})
	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/market/tokens", nil))
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health is not rate limited")
}
