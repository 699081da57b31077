// Package supabase implements the profile store on Supabase PostgREST.
package supabase

import (
	"context"
	"errors"
	"net/http"
	"time"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
	"github.com/R3E-Network/wallet_dashboard/supabase/client"
)

// TokenSource yields the signed-in user's access token so row level security
// applies. An empty token runs with the project key.
type TokenSource func(ctx context.Context) string

// Store implements storage.ProfileStore over the profiles table.
type Store struct {
	client *client.Client
	token  TokenSource
}

var _ storage.ProfileStore = (*Store)(nil)

// New creates a Store. token may be nil.
func New(c *client.Client, token TokenSource) *Store {
	if token == nil {
		token = func(context.Context) string { return "" }
	}
	return &Store{client: c, token: token}
}

// row mirrors the table; nullable text columns decode as pointers.
type row struct {
	UID             string    `json:"uid"`
	Email           string    `json:"email"`
	DisplayName     *string   `json:"display_name"`
	PhotoURL        *string   `json:"photo_url"`
	WalletAddresses []string  `json:"wallet_addresses"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r row) profile() storage.Profile {
	p := storage.Profile{
		UID:             r.UID,
		Email:           r.Email,
		WalletAddresses: r.WalletAddresses,
		CreatedAt:       r.CreatedAt,
	}
	if r.DisplayName != nil {
		p.DisplayName = *r.DisplayName
	}
	if r.PhotoURL != nil {
		p.PhotoURL = *r.PhotoURL
	}
	return p
}

func (s *Store) GetProfile(ctx context.Context, uid string) (storage.Profile, error) {
	resp, err := s.client.From(storage.ProfilesTable).
		Select("*").
		Eq("uid", uid).
		Single().
		WithToken(s.token(ctx)).
		Execute(ctx)
	if err != nil {
		return storage.Profile{}, classify(err)
	}
	if err := resp.Error(); err != nil {
		if isNoRows(err) {
			return storage.Profile{}, storage.NotFound(uid)
		}
		return storage.Profile{}, classify(err)
	}

	var r row
	if err := resp.JSON(&r); err != nil {
		return storage.Profile{}, svcerrors.DocumentStoreError(svcerrors.DocumentStoreUnknown, err)
	}
	return r.profile(), nil
}

func (s *Store) SetProfile(ctx context.Context, profile storage.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	if profile.WalletAddresses == nil {
		profile.WalletAddresses = []string{}
	}

	resp, err := s.client.From(storage.ProfilesTable).
		Upsert("uid").
		WithToken(s.token(ctx)).
		ExecuteInsert(ctx, profile)
	if err != nil {
		return classify(err)
	}
	if err := resp.Error(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) UpdateProfileField(ctx context.Context, uid, field string, value interface{}) error {
	if err := storage.ValidateField(field, value); err != nil {
		return err
	}

	resp, err := s.client.From(storage.ProfilesTable).
		Eq("uid", uid).
		WithToken(s.token(ctx)).
		ExecuteUpdate(ctx, map[string]interface{}{field: value})
	if err != nil {
		return classify(err)
	}
	if err := resp.Error(); err != nil {
		return classify(err)
	}

	// return=representation echoes the updated rows.
	var rows []row
	if err := resp.JSON(&rows); err == nil && len(rows) == 0 {
		return storage.NotFound(uid)
	}
	return nil
}

func isNoRows(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotAcceptable && apiErr.Code == "PGRST116"
}

// classify maps PostgREST and transport failures onto document store kinds.
func classify(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden,
			apiErr.Code == "42501", apiErr.Code == "PGRST301":
			return svcerrors.DocumentStoreError(svcerrors.DocumentStorePermission, err)
		case apiErr.StatusCode >= 500:
			return svcerrors.DocumentStoreError(svcerrors.DocumentStoreNetwork, err)
		}
		return svcerrors.DocumentStoreError(svcerrors.DocumentStoreUnknown, err)
	}
	// Anything that never produced a response is a transport failure,
	// including an open circuit.
	return svcerrors.DocumentStoreError(svcerrors.DocumentStoreNetwork, err)
}
