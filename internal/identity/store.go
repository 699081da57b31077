// Package identity holds the signed-in Session User and keeps it in sync
// with the auth service and the profile document store.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/wallet_dashboard/internal/chain"
	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
	"github.com/R3E-Network/wallet_dashboard/supabase/client"
)

const maxAvatarBytes = 5 << 20

// User is the Session User. Consumers always receive copies.
type User struct {
	UID             string   `json:"uid"`
	Email           string   `json:"email,omitempty"`
	DisplayName     string   `json:"display_name,omitempty"`
	PhotoURL        string   `json:"photo_url,omitempty"`
	WalletAddresses []string `json:"wallet_addresses"`
	// SessionID changes on every sign-in.
	SessionID string `json:"session_id"`
}

// Clone returns a deep copy; nil stays nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.WalletAddresses = append([]string{}, u.WalletAddresses...)
	return &cp
}

// AuthService is the auth API the store depends on. *client.AuthClient
// implements it.
type AuthService interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*client.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*client.Session, error)
	AuthorizeURL(provider, redirectTo, codeChallenge string) string
	ExchangeCodeForSession(ctx context.Context, authCode, codeVerifier string) (*client.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*client.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, accessToken string, attrs client.UserAttributes) (*client.User, error)
}

// AvatarStorage stores avatar images. *client.BucketClient implements it.
type AvatarStorage interface {
	Upload(ctx context.Context, accessToken, path string, data []byte, contentType string) error
	GetPublicURL(path string) string
}

// Options configures a Store.
type Options struct {
	Auth     AuthService
	Profiles storage.ProfileStore
	// Avatars is optional; UploadAvatar fails without it.
	Avatars AvatarStorage
	// OAuthRedirectURL receives the provider callback.
	OAuthRedirectURL string
	// PasswordResetURL is where recovery emails point.
	PasswordResetURL string
	// JWTSecret verifies access tokens when set; otherwise claims are read
	// without verification.
	JWTSecret []byte
	// RefreshWindow refreshes tokens this long before they expire.
	RefreshWindow time.Duration
	// EnrichTimeout bounds the background profile fetch after sign-in.
	EnrichTimeout time.Duration
	Logger        *logger.Logger
}

// Store is the Identity Session Store.
type Store struct {
	auth     AuthService
	profiles storage.ProfileStore
	avatars  AvatarStorage
	opts     Options
	log      *logger.Logger
	now      func() time.Time

	mu         sync.RWMutex
	user       *User
	session    *client.Session
	expiresAt  time.Time
	generation uint64
	flows      map[string]pkceFlow
	subs       map[int]func(*User)
	nextSub    int

	refreshMu sync.Mutex
	enrich    sync.WaitGroup
}

// New creates a signed-out store.
func New(opts Options) (*Store, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = time.Minute
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("identity")
	}

	return &Store{
		auth:     opts.Auth,
		profiles: opts.Profiles,
		avatars:  opts.Avatars,
		opts:     opts,
		log:      opts.Logger,
		now:      time.Now,
		flows:    make(map[string]pkceFlow),
		subs:     make(map[int]func(*User)),
	}, nil
}

// CurrentUser returns a copy of the Session User, or nil when signed out.
func (s *Store) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// Subscribe registers fn for Session User changes (nil on sign-out) and
// returns its unsubscribe.
func (s *Store) Subscribe(fn func(*User)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// Wait blocks until background profile enrichment has finished.
func (s *Store) Wait() { s.enrich.Wait() }

// SignUp creates an account. The returned user is nil when the project
// requires email confirmation before the first sign-in.
func (s *Store) SignUp(ctx context.Context, email, password, displayName string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, svcerrors.InvalidInput("email", "is required")
	}
	if password == "" {
		return nil, svcerrors.InvalidInput("password", "is required")
	}

	var metadata map[string]any
	if name := strings.TrimSpace(displayName); name != "" {
		metadata = map[string]any{"display_name": name}
	}
	session, err := s.auth.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, authError(err)
	}
	if session == nil || session.AccessToken == "" {
		s.log.WithField("email", email).Info("sign-up pending email confirmation")
		return nil, nil
	}
	return s.establish(session, "signup")
}

// SignIn signs in with email and password.
func (s *Store) SignIn(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, svcerrors.InvalidInput("credentials", "email and password are required")
	}
	session, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, authError(err)
	}
	return s.establish(session, "password")
}

// StartOAuth begins a PKCE OAuth flow and returns the URL to open plus the
// state that CompleteOAuth expects back.
func (s *Store) StartOAuth(provider string) (authURL, state string, err error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", "", svcerrors.InvalidInput("provider", "is required")
	}
	verifier, challenge, err := newVerifier()
	if err != nil {
		return "", "", svcerrors.Internal("start oauth", err)
	}
	state = uuid.NewString()

	redirect := s.opts.OAuthRedirectURL
	if redirect != "" {
		u, perr := url.Parse(redirect)
		if perr != nil {
			return "", "", svcerrors.InvalidInput("redirect", perr.Error())
		}
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()
		redirect = u.String()
	}

	now := s.now()
	s.mu.Lock()
	for k, f := range s.flows {
		if now.Sub(f.startedAt) > pkceTTL {
			delete(s.flows, k)
		}
	}
	s.flows[state] = pkceFlow{verifier: verifier, provider: provider, startedAt: now}
	s.mu.Unlock()

	return s.auth.AuthorizeURL(provider, redirect, challenge), state, nil
}

// CompleteOAuth exchanges the callback code for a session.
func (s *Store) CompleteOAuth(ctx context.Context, state, code string) (*User, error) {
	s.mu.Lock()
	flow, ok := s.flows[state]
	delete(s.flows, state)
	s.mu.Unlock()

	if !ok || s.now().Sub(flow.startedAt) > pkceTTL {
		return nil, svcerrors.AuthServiceError("The sign-in attempt expired. Please try again.", nil)
	}
	if code == "" {
		return nil, svcerrors.InvalidInput("code", "is required")
	}

	session, err := s.auth.ExchangeCodeForSession(ctx, code, flow.verifier)
	if err != nil {
		return nil, authError(err)
	}
	return s.establish(session, flow.provider)
}

// establish installs the minimal Session User right away and enriches it
// from the profile document in the background. Enrichment only reads the
// document.
func (s *Store) establish(session *client.Session, method string) (*User, error) {
	if session == nil || session.User == nil || session.User.ID == "" {
		return nil, svcerrors.AuthServiceError(msgAuthFailed, fmt.Errorf("session without user"))
	}

	expiresAt, err := s.expiry(session)
	if err != nil {
		return nil, svcerrors.AuthServiceError(msgAuthFailed, err)
	}

	user := &User{
		UID:             session.User.ID,
		Email:           session.User.Email,
		DisplayName:     session.User.DisplayName(),
		PhotoURL:        session.User.AvatarURL(),
		WalletAddresses: []string{},
		SessionID:       uuid.NewString(),
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.user = user
	s.session = session
	s.expiresAt = expiresAt
	s.enrich.Add(1)
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"user_id": user.UID,
		"method":  method,
	}).Info("signed in")
	s.notify()

	go s.enrichProfile(gen, user.Clone())
	return user.Clone(), nil
}

// expiry reads exp from the access token, falling back to the session's
// expiry fields.
func (s *Store) expiry(session *client.Session) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	var err error
	if len(s.opts.JWTSecret) > 0 {
		_, err = jwt.ParseWithClaims(session.AccessToken, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.opts.JWTSecret, nil
		}, jwt.WithTimeFunc(s.now))
		if err != nil {
			return time.Time{}, fmt.Errorf("verify access token: %w", err)
		}
		if claims.Subject != "" && claims.Subject != session.User.ID {
			return time.Time{}, fmt.Errorf("access token subject mismatch")
		}
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(session.AccessToken, claims)
	}
	if err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time, nil
	}

	switch {
	case session.ExpiresAt > 0:
		return time.Unix(session.ExpiresAt, 0), nil
	case session.ExpiresIn > 0:
		return s.now().Add(time.Duration(session.ExpiresIn) * time.Second), nil
	default:
		return s.now().Add(time.Hour), nil
	}
}

func (s *Store) enrichProfile(gen uint64, minimal *User) {
	defer s.enrich.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EnrichTimeout)
	defer cancel()

	log := s.log.WithField("user_id", minimal.UID)
	doc, err := s.profiles.GetProfile(ctx, minimal.UID)
	switch {
	case err == nil:
		s.mutate(gen, func(u *User) {
			if doc.DisplayName != "" {
				u.DisplayName = doc.DisplayName
			}
			if doc.PhotoURL != "" {
				u.PhotoURL = doc.PhotoURL
			}
			if u.Email == "" {
				u.Email = doc.Email
			}
			u.WalletAddresses = union(doc.WalletAddresses, u.WalletAddresses)
		})
		log.Debug("profile enriched")
	case storage.IsNotFound(err):
		// The linkage flow creates the document on the first wallet link.
		log.Debug("no profile document yet")
	default:
		log.WithError(err).Warn("profile fetch failed; keeping minimal session")
	}
}

// mutate applies fn to the Session User when gen is still the active
// session and notifies subscribers.
func (s *Store) mutate(gen uint64, fn func(*User)) bool {
	s.mu.Lock()
	if s.user == nil || s.generation != gen {
		s.mu.Unlock()
		return false
	}
	fn(s.user)
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) notify() {
	s.mu.RLock()
	user := s.user.Clone()
	subs := make([]func(*User), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(user.Clone())
	}
}

// SignOut revokes the session remotely (best effort) and clears all local
// session state.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	hadUser := s.user != nil
	s.user = nil
	s.session = nil
	s.expiresAt = time.Time{}
	s.generation++
	s.flows = make(map[string]pkceFlow)
	s.mu.Unlock()

	if session != nil && session.AccessToken != "" {
		if err := s.auth.SignOut(ctx, session.AccessToken); err != nil {
			s.log.WithError(err).Warn("remote sign-out failed; local session cleared")
		}
	}
	if hadUser {
		s.log.Info("signed out")
		s.notify()
	}
	return nil
}

// ResetPassword sends a password recovery email.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return svcerrors.InvalidInput("email", "is required")
	}
	if err := s.auth.ResetPasswordForEmail(ctx, email, s.opts.PasswordResetURL); err != nil {
		return authError(err)
	}
	return nil
}

// AccessToken returns a valid access token, refreshing it when it expires
// within the refresh window.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	session := s.session
	expiresAt := s.expiresAt
	gen := s.generation
	s.mu.RUnlock()

	if session == nil {
		return "", svcerrors.NotAuthenticated("")
	}
	if s.now().Add(s.opts.RefreshWindow).Before(expiresAt) {
		return session.AccessToken, nil
	}
	if session.RefreshToken == "" {
		return "", svcerrors.NotAuthenticated("session expired")
	}

	refreshed, err := s.auth.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return "", authError(err)
	}
	if refreshed.User == nil {
		refreshed.User = session.User
	}
	newExpiry, err := s.expiry(refreshed)
	if err != nil {
		return "", svcerrors.AuthServiceError(msgAuthFailed, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return "", svcerrors.NotAuthenticated("signed out during refresh")
	}
	s.session = refreshed
	s.expiresAt = newExpiry
	s.mu.Unlock()

	s.log.Debug("access token refreshed")
	return refreshed.AccessToken, nil
}

// Token is AccessToken without the error, for row level security on
// document store calls. It returns an empty string when signed out.
func (s *Store) Token(ctx context.Context) string {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return ""
	}
	return token
}

// UpdateDisplayName changes the display name in the auth service, the
// profile document (best effort) and the Session User.
func (s *Store) UpdateDisplayName(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, svcerrors.InvalidInput("display_name", "is required")
	}
	token, gen, uid, err := s.activeSession(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.auth.UpdateUser(ctx, token, client.UserAttributes{Data: map[string]any{"display_name": name}}); err != nil {
		return nil, authError(err)
	}
	if err := s.profiles.UpdateProfileField(ctx, uid, storage.FieldDisplayName, name); err != nil {
		s.log.WithError(err).WithField("user_id", uid).Warn("display name not persisted to profile document")
	}

	s.mutate(gen, func(u *User) { u.DisplayName = name })
	return s.CurrentUser(), nil
}

// UploadAvatar stores an avatar image and points the profile at it.
func (s *Store) UploadAvatar(ctx context.Context, data []byte, contentType string) (*User, error) {
	if s.avatars == nil {
		return nil, svcerrors.ConfigurationError([]string{"IDENTITY_STORAGE_BUCKET"})
	}
	ext, ok := avatarExtensions[strings.ToLower(contentType)]
	if !ok {
		return nil, svcerrors.InvalidInput("content_type", "must be a PNG, JPEG, GIF or WebP image")
	}
	if len(data) == 0 || len(data) > maxAvatarBytes {
		return nil, svcerrors.InvalidInput("avatar", fmt.Sprintf("must be between 1 byte and %d bytes", maxAvatarBytes))
	}
	token, gen, uid, err := s.activeSession(ctx)
	if err != nil {
		return nil, err
	}

	objectPath := path.Join(uid, "avatar"+ext)
	if err := s.avatars.Upload(ctx, token, objectPath, data, contentType); err != nil {
		return nil, svcerrors.DocumentStoreError(svcerrors.DocumentStoreUnknown, err)
	}
	photoURL := s.avatars.GetPublicURL(objectPath)

	if _, err := s.auth.UpdateUser(ctx, token, client.UserAttributes{Data: map[string]any{"avatar_url": photoURL}}); err != nil {
		return nil, authError(err)
	}
	if err := s.profiles.UpdateProfileField(ctx, uid, storage.FieldPhotoURL, photoURL); err != nil {
		s.log.WithError(err).WithField("user_id", uid).Warn("avatar not persisted to profile document")
	}

	s.mutate(gen, func(u *User) { u.PhotoURL = photoURL })
	return s.CurrentUser(), nil
}

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func (s *Store) activeSession(ctx context.Context) (token string, gen uint64, uid string, err error) {
	s.mu.RLock()
	user := s.user
	gen = s.generation
	s.mu.RUnlock()
	if user == nil {
		return "", 0, "", svcerrors.NotAuthenticated("")
	}
	token, err = s.AccessToken(ctx)
	if err != nil {
		return "", 0, "", err
	}
	return token, gen, user.UID, nil
}

// AddWalletAddress adds address to the Session User identified by uid and
// returns the resulting list. It reports false when uid is not the signed-in
// user.
func (s *Store) AddWalletAddress(uid, address string) ([]string, bool) {
	return s.MergeWalletAddresses(uid, []string{address})
}

// MergeWalletAddresses unions addresses into the Session User's list,
// preserving order.
func (s *Store) MergeWalletAddresses(uid string, addresses []string) ([]string, bool) {
	s.mu.Lock()
	if s.user == nil || s.user.UID != uid {
		s.mu.Unlock()
		return nil, false
	}
	merged := union(s.user.WalletAddresses, addresses)
	changed := len(merged) != len(s.user.WalletAddresses)
	s.user.WalletAddresses = merged
	out := append([]string{}, merged...)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return out, true
}

// union appends the members of b missing from a, comparing normalised
// addresses. Entries keep their first-seen spelling.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, addr := range list {
			key := chain.NormalizeAddress(addr)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr)
		}
	}
	return out
}
