// Package postgres implements the profile store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	uid TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT,
	photo_url TEXT,
	wallet_addresses TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// columns maps updatable fields to their column names.
var columns = map[string]string{
	storage.FieldDisplayName:     "display_name",
	storage.FieldPhotoURL:        "photo_url",
	storage.FieldWalletAddresses: "wallet_addresses",
}

// Store implements storage.ProfileStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ProfileStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the profiles table when absent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate profiles: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, uid string) (storage.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, photo_url, wallet_addresses, created_at
		FROM profiles
		WHERE uid = $1
	`, uid)

	var (
		p                     storage.Profile
		displayName, photoURL sql.NullString
		addresses             pq.StringArray
	)
	if err := row.Scan(&p.UID, &p.Email, &displayName, &photoURL, &addresses, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Profile{}, storage.NotFound(uid)
		}
		return storage.Profile{}, classify(err)
	}

	p.DisplayName = displayName.String
	p.PhotoURL = photoURL.String
	p.WalletAddresses = []string(addresses)
	return p, nil
}

func (s *Store) SetProfile(ctx context.Context, profile storage.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	addresses := profile.WalletAddresses
	if addresses == nil {
		addresses = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (uid, email, display_name, photo_url, wallet_addresses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO UPDATE
		SET email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			photo_url = EXCLUDED.photo_url,
			wallet_addresses = EXCLUDED.wallet_addresses
	`, profile.UID, profile.Email, nullable(profile.DisplayName), nullable(profile.PhotoURL),
		pq.Array(addresses), profile.CreatedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) UpdateProfileField(ctx context.Context, uid, field string, value interface{}) error {
	if err := storage.ValidateField(field, value); err != nil {
		return err
	}

	arg := value
	if list, ok := value.([]string); ok {
		arg = pq.Array(list)
	}

	// column comes from the fixed map above, never from input.
	query := fmt.Sprintf("UPDATE profiles SET %s = $2 WHERE uid = $1", columns[field])
	result, err := s.db.ExecContext(ctx, query, uid, arg)
	if err != nil {
		return classify(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.NotFound(uid)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classify maps driver failures onto document store kinds.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 42501 insufficient_privilege, class 28 invalid authorization.
		if pqErr.Code == "42501" || pqErr.Code.Class() == "28" {
			return svcerrors.DocumentStoreError(svcerrors.DocumentStorePermission, err)
		}
		return svcerrors.DocumentStoreError(svcerrors.DocumentStoreUnknown, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return svcerrors.DocumentStoreError(svcerrors.DocumentStoreNetwork, err)
	}
	return svcerrors.DocumentStoreError(svcerrors.DocumentStoreUnknown, err)
}
