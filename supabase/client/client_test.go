package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL + "/", APIKey: "anon-key", ClientInfo: "wallet-dashboard/test"})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{URL: "https://x.supabase.co"})
	assert.Error(t, err)

	_, err = New(Config{URL: "x.supabase.co", APIKey: "k"})
	assert.Error(t, err)

	c, err := New(Config{URL: "https://x.supabase.co/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.supabase.co", c.BaseURL())
}

func TestQueryBuilder_SingleSelect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("uid"))
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "wallet-dashboard/test", r.Header.Get("X-Client-Info"))
		w.Write([]byte(`{"uid":"u1"}`))
	})

	resp, err := c.From("profiles").Select("*").Eq("uid", "u1").Single().WithToken("user-token").Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Error())

	var row map[string]string
	require.NoError(t, resp.JSON(&row))
	assert.Equal(t, "u1", row["uid"])
}

func TestQueryBuilder_ProjectKeyBearerWithoutToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[]`))
	})

	_, err := c.From("profiles").Limit(5).Execute(context.Background())
	require.NoError(t, err)
}

func TestQueryBuilder_Upsert(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "uid", r.URL.Query().Get("on_conflict"))
		assert.Equal(t, "resolution=merge-duplicates,return=representation", r.Header.Get("Prefer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["uid"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"uid":"u1"}]`))
	})

	resp, err := c.From("profiles").Upsert("uid").ExecuteInsert(context.Background(), map[string]any{"uid": "u1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestQueryBuilder_Update(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("uid"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"wallet_addresses":["0xA"]}`, string(body))
		w.Write([]byte(`[{"uid":"u1"}]`))
	})

	resp, err := c.From("profiles").Eq("uid", "u1").ExecuteUpdate(context.Background(),
		map[string]any{"wallet_addresses": []string{"0xA"}})
	require.NoError(t, err)
	assert.NoError(t, resp.Error())
}

func TestResponse_ErrorParsing(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"gotrue error_code", 422, `{"code":422,"error_code":"weak_password","msg":"Password should be at least 6 characters"}`, "weak_password", "Password should be at least 6 characters"},
		{"oauth error", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, "invalid_grant", "Invalid login credentials"},
		{"postgrest code", 406, `{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`, "PGRST116", "JSON object requested, multiple (or no) rows returned"},
		{"plain text", 502, `bad gateway`, "", "bad gateway"},
		{"empty", 503, ``, "", "Service Unavailable"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := (&Response{StatusCode: tc.status, Body: []byte(tc.body)}).Error()

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.wantCode, apiErr.Code)
			assert.Equal(t, tc.wantMsg, apiErr.Message)
		})
	}

	assert.NoError(t, (&Response{StatusCode: 204}).Error())
}

func TestAuth_SignUpWithoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@b.c", body["email"])
		assert.Equal(t, map[string]any{"display_name": "Ada"}, body["data"])
		w.Write([]byte(`{"id":"u1","email":"a@b.c","user_metadata":{"display_name":"Ada"}}`))
	})

	session, err := c.Auth().SignUp(context.Background(), "a@b.c", "secret1", map[string]any{"display_name": "Ada"})
	require.NoError(t, err)
	assert.Empty(t, session.AccessToken)
	require.NotNil(t, session.User)
	assert.Equal(t, "u1", session.User.ID)
	assert.Equal(t, "Ada", session.User.DisplayName())
}

func TestAuth_SignInWithPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user":{"id":"u1","email":"a@b.c","user_metadata":{"full_name":"Ada L","picture":"https://img/a.png"}}}`))
	})

	session, err := c.Auth().SignInWithPassword(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "at", session.AccessToken)
	assert.Equal(t, "rt", session.RefreshToken)
	assert.Equal(t, "Ada L", session.User.DisplayName())
	assert.Equal(t, "https://img/a.png", session.User.AvatarURL())
}

func TestAuth_SignInFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`))
	})

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@b.c", "bad")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_credentials", apiErr.Code)
}

func TestAuth_AuthorizeURL(t *testing.T) {
	c, err := New(Config{URL: "https://proj.supabase.co", APIKey: "k"})
	require.NoError(t, err)

	raw := c.Auth().AuthorizeURL("google", "http://127.0.0.1:8080/auth/oauth/callback", "challenge")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/auth/v1/authorize", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "google", q.Get("provider"))
	assert.Equal(t, "http://127.0.0.1:8080/auth/oauth/callback", q.Get("redirect_to"))
	assert.Equal(t, "challenge", q.Get("code_challenge"))
	assert.Equal(t, "s256", q.Get("code_challenge_method"))
}

func TestAuth_ExchangeCodeForSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pkce", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "code-1", body["auth_code"])
		assert.Equal(t, "verifier-1", body["code_verifier"])
		w.Write([]byte(`{"access_token":"at","user":{"id":"u2"}}`))
	})

	session, err := c.Auth().ExchangeCodeForSession(context.Background(), "code-1", "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, "u2", session.User.ID)
}

func TestAuth_UpdateUserAndSignOut(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/auth/v1/user":
			assert.Equal(t, http.MethodPut, r.Method)
			w.Write([]byte(`{"id":"u1","user_metadata":{"display_name":"New"}}`))
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	user, err := c.Auth().UpdateUser(context.Background(), "at", UserAttributes{Data: map[string]any{"display_name": "New"}})
	require.NoError(t, err)
	assert.Equal(t, "New", user.DisplayName())

	assert.NoError(t, c.Auth().SignOut(context.Background(), "at"))
}

func TestAuth_ResetPasswordForEmail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		assert.Equal(t, "http://localhost/reset", r.URL.Query().Get("redirect_to"))
		w.Write([]byte(`{}`))
	})

	assert.NoError(t, c.Auth().ResetPasswordForEmail(context.Background(), "a@b.c", "http://localhost/reset"))
}

func TestStorage_Upload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/avatars/u1/avatar.png", r.URL.Path)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body)
		w.Write([]byte(`{"Key":"avatars/u1/avatar.png"}`))
	})

	bucket := c.Storage().From("avatars")
	require.NoError(t, bucket.Upload(context.Background(), "at", "/u1/avatar.png", []byte{0x89, 'P', 'N', 'G'}, "image/png"))
	assert.Equal(t, c.BaseURL()+"/storage/v1/object/public/avatars/u1/avatar.png", bucket.GetPublicURL("u1/avatar.png"))
}
