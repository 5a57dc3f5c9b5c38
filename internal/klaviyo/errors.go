package klaviyo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies upstream failures for retry policy and HTTP
// surfacing.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindRateLimit      ErrorKind = "rate_limit"
	KindServer         ErrorKind = "server"
	KindNetwork        ErrorKind = "network"
	KindTimeout        ErrorKind = "timeout"
)

// APIError is the typed error for any upstream call failure.
type APIError struct {
	Kind       ErrorKind
	Status     int
	Detail     string
	RetryAfter time.Duration
	// Fields maps JSON:API source pointers to messages for 422 responses.
	Fields map[string]string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("klaviyo: %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("klaviyo: %s: %s", e.Kind, e.Detail)
}

// Retryable reports whether the failure is worth retrying with backoff.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// AsAPIError unwraps err to an *APIError when present.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRateLimited reports whether err is an upstream 429.
func IsRateLimited(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindRateLimit
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindNotFound
}

// IsRetryable reports whether err should be retried. Non-APIError
// values are treated as not retryable.
func IsRetryable(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Retryable()
}

// jsonAPIErrorBody is the upstream error envelope.
type jsonAPIErrorBody struct {
	Errors []struct {
		Status string `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Source struct {
			Pointer   string `json:"pointer"`
			Parameter string `json:"parameter"`
		} `json:"source"`
	} `json:"errors"`
}

// classifyStatus builds the typed error for a non-2xx response.
func classifyStatus(status int, body []byte, retryAfter time.Duration) *APIError {
	detail := fmt.Sprintf("unexpected status %d", status)
	var fields map[string]string

	var envelope jsonAPIErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		if first.Detail != "" {
			detail = first.Detail
		} else if first.Title != "" {
			detail = first.Title
		}
		for _, e := range envelope.Errors {
			key := e.Source.Pointer
			if key == "" {
				key = e.Source.Parameter
			}
			if key == "" {
				continue
			}
			if fields == nil {
				fields = make(map[string]string)
			}
			msg := e.Detail
			if msg == "" {
				msg = e.Title
			}
			fields[key] = msg
		}
	}

	switch {
	case status == 401 || status == 403:
		return &APIError{Kind: KindAuthentication, Status: status, Detail: detail}
	case status == 404:
		return &APIError{Kind: KindNotFound, Status: status, Detail: detail}
	case status == 422:
		return &APIError{Kind: KindValidation, Status: status, Detail: detail, Fields: fields}
	case status == 429:
		return &APIError{Kind: KindRateLimit, Status: status, Detail: detail, RetryAfter: retryAfter}
	case status >= 500:
		return &APIError{Kind: KindServer, Status: status, Detail: detail}
	default:
		// Other 4xx: treat as validation-class, not retryable.
		return &APIError{Kind: KindValidation, Status: status, Detail: detail, Fields: fields}
	}
}

// parseRetryAfter reads a Retry-After header value: either delay
// seconds or an HTTP date. Returns 0 when absent or unparseable.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(header, "%d", &secs); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
