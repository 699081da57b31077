package postgres

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/storage"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS profiles").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"uid", "email", "display_name", "photo_url", "wallet_addresses", "created_at"}).
		AddRow("u1", "a@b.c", "Ada", nil, `{0xAAA,0xBBB}`, created)
	mock.ExpectQuery("SELECT uid, email, display_name, photo_url, wallet_addresses, created_at").
		WithArgs("u1").
		WillReturnRows(rows)

	p, err := store.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Empty(t, p.PhotoURL)
	assert.Equal(t, []string{"0xAAA", "0xBBB"}, p.WalletAddresses)
	assert.Equal(t, created, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile_NotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT uid").WithArgs("u1").WillReturnError(sql.ErrNoRows)

	_, err := store.GetProfile(context.Background(), "u1")
	assert.True(t, storage.IsNotFound(err))
}

func TestGetProfile_ErrorKinds(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want svcerrors.DocumentStoreKind
	}{
		{"permission", &pq.Error{Code: "42501", Message: "permission denied for table profiles"}, svcerrors.DocumentStorePermission},
		{"auth", &pq.Error{Code: "28P01", Message: "password authentication failed"}, svcerrors.DocumentStorePermission},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, svcerrors.DocumentStoreNetwork},
		{"other pq", &pq.Error{Code: "42P01", Message: "relation does not exist"}, svcerrors.DocumentStoreUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMock(t)
			mock.ExpectQuery("SELECT uid").WithArgs("u1").WillReturnError(tc.err)

			_, err := store.GetProfile(context.Background(), "u1")
			assert.Equal(t, tc.want, svcerrors.GetDocumentStoreKind(err))
		})
	}
}

func TestSetProfile(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec("INSERT INTO profiles").
		WithArgs("u1", "a@b.c", "Ada", nil, sqlmock.AnyArg(), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetProfile(context.Background(), storage.Profile{
		UID:             "u1",
		Email:           "a@b.c",
		DisplayName:     "Ada",
		WalletAddresses: []string{"0xAAA"},
		CreatedAt:       created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileField(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("UPDATE profiles SET wallet_addresses = ").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE profiles SET display_name = ").
		WithArgs("u1", "Ada").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, store.UpdateProfileField(ctx, "u1", storage.FieldWalletAddresses, []string{"0xAAA", "0xBBB"}))
	require.NoError(t, store.UpdateProfileField(ctx, "u1", storage.FieldDisplayName, "Ada"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileField_Missing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("UPDATE profiles SET photo_url = ").
		WithArgs("u1", "https://img").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateProfileField(context.Background(), "u1", storage.FieldPhotoURL, "https://img")
	assert.True(t, storage.IsNotFound(err))
}

func TestUpdateProfileField_RejectsUnknownField(t *testing.T) {
	store, mock := newMock(t)

	err := store.UpdateProfileField(context.Background(), "u1", "uid; DROP TABLE profiles", "x")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)
	uid := "it-" + time.Now().Format("150405.000000")
	if err := store.SetProfile(ctx, storage.Profile{UID: uid, Email: "it@example.com"}); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if err := store.UpdateProfileField(ctx, uid, storage.FieldWalletAddresses, []string{"0xAAA"}); err != nil {
		t.Fatalf("update wallets: %v", err)
	}
	p, err := store.GetProfile(ctx, uid)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if len(p.WalletAddresses) != 1 || p.WalletAddresses[0] != "0xAAA" {
		t.Errorf("wallet_addresses = %v, want [0xAAA]", p.WalletAddresses)
	}
}
