package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koustreak/mssqlgate/internal/errs"
)

// Error is the JSON body of every failed response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes that are not error kinds.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeServiceError maps an operation error to its status and body. The
// message is the service's sanitized message; the cause is never sent.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var e *errs.Error
	if !errors.As(err, &e) {
		writeError(w, status, ErrCodeInternal, "internal server error")
		return
	}
	code := e.Kind.String()
	if e.Kind == errs.ErrKindUnknown {
		code = ErrCodeInternal
	}
	writeError(w, status, code, e.Message)
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindInvalidInput, errs.ErrKindQueryRejected:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindConnectionFailed, errs.ErrKindShutdown:
		return http.StatusServiceUnavailable
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
