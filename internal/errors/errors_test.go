package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("connect: %w", UserRejected(stderrors.New("4001")))

	assert.True(t, stderrors.Is(err, ErrUserRejected))
	assert.False(t, stderrors.Is(err, ErrProviderError))
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := TransferFailed(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "TRANSFER_FAILED: transfer failed: boom", err.Error())
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := InvalidInput("amount", "must be positive")
	withExtra := base.WithDetails("value", "-1")

	assert.Len(t, base.Details, 1)
	assert.Len(t, withExtra.Details, 2)
	assert.Equal(t, "-1", withExtra.Details["value"])
}

func TestGetServiceError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ProviderMissing())

	se := GetServiceError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, CodeProviderMissing, se.Code)
	assert.Equal(t, http.StatusServiceUnavailable, se.HTTPStatus)

	assert.Nil(t, GetServiceError(stderrors.New("plain")))
}

func TestDocumentStoreKind(t *testing.T) {
	err := DocumentStoreError(DocumentStorePermission, stderrors.New("denied"))

	assert.Equal(t, DocumentStorePermission, GetDocumentStoreKind(err))
	assert.Equal(t, DocumentStoreKind(""), GetDocumentStoreKind(NotAuthenticated("")))
	assert.True(t, HasCode(err, CodeDocumentStoreError))
}

func TestConfigurationError_ListsMissing(t *testing.T) {
	err := ConfigurationError([]string{"IDENTITY_API_KEY", "IDENTITY_APP_ID"})

	assert.Equal(t, []string{"IDENTITY_API_KEY", "IDENTITY_APP_ID"}, err.Details["missing"])
	assert.ErrorIs(t, err, ErrConfiguration)
}
