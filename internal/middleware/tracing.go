// Package middleware provides HTTP middleware for the dashboard API.
package middleware

import (
	"net/http"

	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// TraceHeader carries the request trace identifier in both directions.
const TraceHeader = "X-Trace-ID"

// Tracing reuses the caller's trace ID or generates one, stores it in the
// request context and echoes it in the response.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logger.NewTraceID()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), traceID)))
	})
}
