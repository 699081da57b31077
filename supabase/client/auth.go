package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Auth returns an auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient handles GoTrue authentication operations.
type AuthClient struct {
	client *Client
}

// Session is the token set issued by GoTrue.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// User represents a Supabase user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             string         `json:"role"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// DisplayName returns the first populated name-like metadata field.
func (u *User) DisplayName() string {
	return u.metadataString("display_name", "full_name", "name")
}

// AvatarURL returns the avatar reference from user metadata.
func (u *User) AvatarURL() string {
	return u.metadataString("avatar_url", "picture")
}

func (u *User) metadataString(keys ...string) string {
	if u == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := u.UserMetadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// UserAttributes is the payload of an update-user call.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// SignUp creates a new email/password user. When the project requires email
// confirmation GoTrue returns only the user, so the session tokens are empty.
func (a *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}

	resp, err := a.post(ctx, "/auth/v1/signup", "", payload)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if session.User == nil {
		var user User
		if err := resp.JSON(&user); err != nil {
			return nil, fmt.Errorf("unmarshal user: %w", err)
		}
		session.User = &user
	}
	return &session, nil
}

// SignInWithPassword signs in with email and password.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return a.token(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// AuthorizeURL builds the OAuth authorize URL for a PKCE flow.
func (a *AuthClient) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	params := url.Values{}
	params.Set("provider", provider)
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", "s256")
	}
	return fmt.Sprintf("%s/auth/v1/authorize?%s", a.client.baseURL, params.Encode())
}

// ExchangeCodeForSession completes a PKCE OAuth flow.
func (a *AuthClient) ExchangeCodeForSession(ctx context.Context, authCode, codeVerifier string) (*Session, error) {
	return a.token(ctx, "pkce", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	})
}

// RefreshSession trades a refresh token for a new session.
func (a *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return a.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// SignOut revokes the session identified by accessToken.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := a.post(ctx, "/auth/v1/logout", accessToken, nil)
	return err
}

// ResetPasswordForEmail sends a password recovery email.
func (a *AuthClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	_, err := a.post(ctx, path, "", map[string]string{"email": email})
	return err
}

// GetUser gets the user owning accessToken.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	return a.user(ctx, http.MethodGet, accessToken, nil)
}

// UpdateUser updates the signed-in user's attributes.
func (a *AuthClient) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error) {
	return a.user(ctx, http.MethodPut, accessToken, attrs)
}

func (a *AuthClient) token(ctx context.Context, grantType string, body any) (*Session, error) {
	resp, err := a.post(ctx, "/auth/v1/token?grant_type="+grantType, "", body)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &session, nil
}

func (a *AuthClient) user(ctx context.Context, method, accessToken string, body any) (*User, error) {
	req, err := a.client.newJSONRequest(ctx, method, a.client.baseURL+"/auth/v1/user", body)
	if err != nil {
		return nil, err
	}
	a.client.setHeaders(req, accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

func (a *AuthClient) post(ctx context.Context, path, accessToken string, body any) (*Response, error) {
	req, err := a.client.newJSONRequest(ctx, http.MethodPost, a.client.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	a.client.setHeaders(req, accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp, nil
}
