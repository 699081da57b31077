// Package storage defines the profile document store used by the identity
// and account linkage flows.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
)

// ProfilesTable is the collection holding one document per user.
const ProfilesTable = "profiles"

// Updatable profile fields.
const (
	FieldDisplayName     = "display_name"
	FieldPhotoURL        = "photo_url"
	FieldWalletAddresses = "wallet_addresses"
)

// Profile is the persisted profile document keyed by UID.
type Profile struct {
	UID             string    `json:"uid"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"display_name"`
	PhotoURL        string    `json:"photo_url"`
	WalletAddresses []string  `json:"wallet_addresses"`
	CreatedAt       time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	p.WalletAddresses = append([]string(nil), p.WalletAddresses...)
	return p
}

// ProfileStore persists profile documents.
//
// GetProfile returns a DOCUMENT_STORE_ERROR of kind not_found when no
// document exists. SetProfile replaces the whole document.
// UpdateProfileField replaces a single field; wallet_addresses is always
// written as a complete list.
type ProfileStore interface {
	GetProfile(ctx context.Context, uid string) (Profile, error)
	SetProfile(ctx context.Context, profile Profile) error
	UpdateProfileField(ctx context.Context, uid, field string, value interface{}) error
}

// ErrProfileNotFound is the cause attached to not_found store errors.
var ErrProfileNotFound = stderrors.New("profile document not found")

// NotFound builds the error returned for a missing document.
func NotFound(uid string) error {
	return svcerrors.DocumentStoreError(svcerrors.DocumentStoreNotFound, ErrProfileNotFound).WithDetails("uid", uid)
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return svcerrors.GetDocumentStoreKind(err) == svcerrors.DocumentStoreNotFound
}

// ValidateField checks that value has the right shape for field.
func ValidateField(field string, value interface{}) error {
	switch field {
	case FieldDisplayName, FieldPhotoURL:
		if _, ok := value.(string); !ok {
			return svcerrors.InvalidInput(field, "must be a string")
		}
	case FieldWalletAddresses:
		if _, ok := value.([]string); !ok {
			return svcerrors.InvalidInput(field, "must be a list of strings")
		}
	default:
		return svcerrors.InvalidInput("field", "unknown profile field "+field)
	}
	return nil
}
