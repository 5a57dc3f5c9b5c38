// Package api holds the pieces shared between the REST handlers and
// the middleware chain: the error envelope, JSON writing and
// request-ID propagation.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/logger"
)

// Error envelope codes; dashboards branch on these, not on the HTTP
// status line.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeSyncInProgress = "SYNC_IN_PROGRESS"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeDatabase       = "DATABASE_ERROR"
	CodeCancelled      = "CANCELLED"
	CodeInternal       = "INTERNAL_ERROR"
	CodeAuth           = "AUTH_ERROR"
)

// StatusClientClosedRequest mirrors nginx's non-standard 499 used for
// client-cancelled requests.
const StatusClientClosedRequest = 499

// StatusForCode maps an envelope code to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSyncInProgress:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeCancelled:
		return StatusClientClosedRequest
	case CodeAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the uniform error envelope.
type ErrorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
	Details    any    `json:"details,omitempty"`
}

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID stores the request's correlation ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the correlation ID, or empty outside a
// request.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WriteJSON serializes v with the standard headers. Serialization
// failures are logged, not surfaced: headers are already gone.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Error("failed to encode response", zap.Error(err))
	}
}

// WriteError emits the error envelope for the given code.
func WriteError(w http.ResponseWriter, r *http.Request, code, message string) {
	WriteErrorRetry(w, r, code, message, nil)
}

// WriteErrorRetry is WriteError with an optional Retry-After duration
// in seconds.
func WriteErrorRetry(w http.ResponseWriter, r *http.Request, code, message string, retryAfterSec *int) {
	status := StatusForCode(code)
	errText := http.StatusText(status)
	if status == StatusClientClosedRequest {
		errText = "Client Closed Request"
	}
	body := ErrorBody{
		Error:      errText,
		Code:       code,
		Message:    message,
		RequestID:  RequestIDFrom(r.Context()),
		RetryAfter: retryAfterSec,
	}
	if retryAfterSec != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*retryAfterSec))
	}
	WriteJSON(w, status, body)
}
