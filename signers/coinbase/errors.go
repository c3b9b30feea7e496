package coinbase

import (
	"fmt"
	"net/http"
	"time"
)

// Error classification values carried by APIError.Type.
const (
	// ErrorTypeRateLimit marks HTTP 429 responses. Retryable after the
	// Retry-After delay.
	ErrorTypeRateLimit = "rate_limit"

	// ErrorTypeServerError marks HTTP 5xx responses. Retryable with
	// backoff.
	ErrorTypeServerError = "server_error"

	// ErrorTypeAuthError marks HTTP 401/403 responses. Not retryable;
	// the credentials or permissions are wrong.
	ErrorTypeAuthError = "auth_error"

	// ErrorTypeClientError marks other HTTP 4xx responses. Not
	// retryable; the request itself is invalid.
	ErrorTypeClientError = "client_error"
)

// APIError is a failed CDP API call. It records the HTTP outcome, a
// classification for programmatic handling, and whether the request is
// worth retrying.
type APIError struct {
	// StatusCode is the HTTP status returned by the CDP API.
	StatusCode int

	// Type is one of the ErrorType* classification values.
	Type string

	// Message is the response body, or a generic description when the
	// body was empty.
	Message string

	// RequestID is the X-Request-ID header value, when present. Include
	// it when reporting issues to Coinbase support.
	RequestID string

	// Retryable reports whether the request may succeed on retry.
	Retryable bool

	// RetryAfter is the server-requested backoff parsed from the
	// Retry-After header on 429 responses. Zero otherwise.
	RetryAfter time.Duration

	// Method and Path identify the failed request.
	Method string
	Path   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("cdp: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request id %s)", e.RequestID)
	}
	return msg
}

// RetryDelayHint reports the server-requested backoff so retry loops
// honor Retry-After instead of the computed schedule.
func (e *APIError) RetryDelayHint() time.Duration {
	return e.RetryAfter
}

// NotFound reports whether the API answered 404, which the account
// lookup treats as "create it".
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
