// Package errors defines the dashboard's error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeNotAuthenticated   Code = "NOT_AUTHENTICATED"
	CodeProviderMissing    Code = "PROVIDER_MISSING"
	CodeUserRejected       Code = "USER_REJECTED"
	CodeProviderError      Code = "PROVIDER_ERROR"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeTransferFailed     Code = "TRANSFER_FAILED"
	CodeAuthServiceError   Code = "AUTH_SERVICE_ERROR"
	CodeDocumentStoreError Code = "DOCUMENT_STORE_ERROR"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal           Code = "INTERNAL"
)

// DocumentStoreKind narrows a document store failure.
type DocumentStoreKind string

const (
	DocumentStoreNetwork    DocumentStoreKind = "network"
	DocumentStorePermission DocumentStoreKind = "permission"
	DocumentStoreNotFound   DocumentStoreKind = "not_found"
	DocumentStoreUnknown    DocumentStoreKind = "unknown"
)

// ServiceError is the error type surfaced across package boundaries.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches another ServiceError by code so callers can test with
// errors.Is(err, errors.ErrUserRejected).
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error carrying an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	cp := *e
	cp.Details = details
	return &cp
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotAuthenticated   = &ServiceError{Code: CodeNotAuthenticated}
	ErrProviderMissing    = &ServiceError{Code: CodeProviderMissing}
	ErrUserRejected       = &ServiceError{Code: CodeUserRejected}
	ErrProviderError      = &ServiceError{Code: CodeProviderError}
	ErrInsufficientFunds  = &ServiceError{Code: CodeInsufficientFunds}
	ErrTransferFailed     = &ServiceError{Code: CodeTransferFailed}
	ErrAuthService        = &ServiceError{Code: CodeAuthServiceError}
	ErrDocumentStore      = &ServiceError{Code: CodeDocumentStoreError}
	ErrConfiguration      = &ServiceError{Code: CodeConfigurationError}
	ErrInvalidInput       = &ServiceError{Code: CodeInvalidInput}
	ErrRateLimitExceeded  = &ServiceError{Code: CodeRateLimitExceeded}
	ErrInternal           = &ServiceError{Code: CodeInternal}
)

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NotAuthenticated reports an operation that requires a signed-in user.
func NotAuthenticated(message string) *ServiceError {
	if message == "" {
		message = "sign in required"
	}
	return newError(CodeNotAuthenticated, http.StatusUnauthorized, message, nil)
}

// ProviderMissing reports that no compatible wallet provider is attached.
func ProviderMissing() *ServiceError {
	return newError(CodeProviderMissing, http.StatusServiceUnavailable, "no compatible wallet provider detected", nil)
}

// UserRejected reports a dismissed wallet prompt.
func UserRejected(err error) *ServiceError {
	return newError(CodeUserRejected, http.StatusConflict, "request rejected in wallet", err)
}

// ProviderError reports any other wallet provider failure.
func ProviderError(message string, err error) *ServiceError {
	return newError(CodeProviderError, http.StatusBadGateway, message, err)
}

// InsufficientFunds reports a transfer exceeding the account balance.
func InsufficientFunds(err error) *ServiceError {
	return newError(CodeInsufficientFunds, http.StatusUnprocessableEntity, "insufficient funds for transfer", err)
}

// TransferFailed reports a transfer the provider could not submit.
func TransferFailed(err error) *ServiceError {
	return newError(CodeTransferFailed, http.StatusBadGateway, "transfer failed", err)
}

// AuthServiceError reports an identity service failure with a readable message.
func AuthServiceError(message string, err error) *ServiceError {
	return newError(CodeAuthServiceError, http.StatusUnauthorized, message, err)
}

// DocumentStoreError reports a profile document store failure.
func DocumentStoreError(kind DocumentStoreKind, err error) *ServiceError {
	return newError(CodeDocumentStoreError, http.StatusBadGateway, "document store "+string(kind)+" failure", err).
		WithDetails("kind", string(kind))
}

// ConfigurationError reports missing or invalid environment configuration.
func ConfigurationError(missing []string) *ServiceError {
	return newError(CodeConfigurationError, http.StatusServiceUnavailable, "missing configuration parameters", nil).
		WithDetails("missing", missing)
}

// InvalidInput reports a malformed request value.
func InvalidInput(field, reason string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, field+": "+reason, nil).WithDetails("field", field)
}

// RateLimitExceeded reports a throttled client.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window), nil)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a *ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// GetDocumentStoreKind returns the kind attached to a document store error.
func GetDocumentStoreKind(err error) DocumentStoreKind {
	se := GetServiceError(err)
	if se == nil || se.Code != CodeDocumentStoreError {
		return ""
	}
	if kind, ok := se.Details["kind"].(string); ok {
		return DocumentStoreKind(kind)
	}
	return DocumentStoreUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
