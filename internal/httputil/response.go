package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/wallet_dashboard/internal/errors"
)

// MaxRequestBody bounds JSON request bodies accepted by ReadJSON.
const MaxRequestBody = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a ServiceError across the wire.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders err. Errors outside the taxonomy become INTERNAL and
// their text is not exposed.
func WriteError(w http.ResponseWriter, traceID string, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	WriteJSON(w, se.HTTPStatus, ErrorBody{Error: ErrorDetail{
		Code:    string(se.Code),
		Message: se.Message,
		Details: se.Details,
		TraceID: traceID,
	}})
}

// ReadJSON decodes a bounded JSON request body into v. Unknown fields are
// rejected.
func ReadJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return svcerrors.InvalidInput("body", "is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return svcerrors.InvalidInput("body", "is required")
		}
		return svcerrors.InvalidInput("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
