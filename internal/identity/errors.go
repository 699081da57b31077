package identity

import (
	"errors"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/supabase/client"
)

// authMessages maps auth service error codes to messages shown to users.
var authMessages = map[string]string{
	"user_already_exists":        "An account with this email already exists.",
	"email_exists":               "An account with this email already exists.",
	"invalid_credentials":        "Incorrect email or password.",
	"invalid_grant":              "Incorrect email or password.",
	"weak_password":              "Password is too weak. Use at least 6 characters.",
	"email_not_confirmed":        "Please confirm your email address before signing in.",
	"over_request_rate_limit":    "Too many attempts. Please wait a moment and try again.",
	"over_email_send_rate_limit": "Too many emails sent. Please wait a moment and try again.",
	"email_address_invalid":      "Please enter a valid email address.",
	"validation_failed":          "Please enter a valid email address.",
	"user_not_found":             "No account found for this email.",
	"signup_disabled":            "New sign-ups are currently disabled.",
	"provider_disabled":          "This sign-in provider is not enabled.",
	"bad_code_verifier":          "The sign-in attempt expired. Please try again.",
	"flow_state_expired":         "The sign-in attempt expired. Please try again.",
	"flow_state_not_found":       "The sign-in attempt expired. Please try again.",
	"session_not_found":          "Your session has expired. Please sign in again.",
	"refresh_token_not_found":    "Your session has expired. Please sign in again.",
	"refresh_token_already_used": "Your session has expired. Please sign in again.",
}

const (
	msgAuthFailed  = "Authentication failed. Please try again."
	msgAuthOffline = "Could not reach the authentication service. Check your connection."
)

// authError converts an auth client failure into AUTH_SERVICE_ERROR with a
// readable message. The service code is kept in details.
func authError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return svcerrors.AuthServiceError(msgAuthOffline, err)
	}

	msg, ok := authMessages[apiErr.Code]
	if !ok {
		msg = msgAuthFailed
	}
	se := svcerrors.AuthServiceError(msg, err)
	if apiErr.Code != "" {
		se = se.WithDetails("service_code", apiErr.Code)
	}
	return se
}
