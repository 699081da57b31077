package middleware

import (
	"net/http"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
	"github.com/R3E-Network/wallet_dashboard/internal/httputil"
	"github.com/R3E-Network/wallet_dashboard/internal/identity"
	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// CurrentUser reports the signed-in user, or nil. *identity.Store
// implements it.
type CurrentUser interface {
	CurrentUser() *identity.User
}

// Session tags the request context with the signed-in user's ID so logs and
// per-user rate limits see it.
func Session(users CurrentUser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := users.CurrentUser(); user != nil {
				r = r.WithContext(logger.WithUserID(r.Context(), user.UID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects requests made while nobody is signed in.
func RequireUser(users CurrentUser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if users.CurrentUser() == nil {
				httputil.WriteError(w, logger.GetTraceID(r.Context()), svcerrors.NotAuthenticated(""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
