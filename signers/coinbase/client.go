package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/x402labs/x402-go/retry"
)

// tokenSource produces the JWTs attached to CDP API requests. Auth
// implements it; tests substitute stubs.
type tokenSource interface {
	BearerToken(method, path string) (string, error)
	WalletAuthToken(method, path string, body []byte) (string, error)
}

// apiRetryConfig backs off transient CDP failures: five attempts from
// 100ms up to 10s. 429 responses override the schedule with their
// Retry-After value.
var apiRetryConfig = retry.Config{
	MaxAttempts:  5,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.5,
}

// Client is an HTTP client for the CDP REST API. It attaches bearer and
// wallet auth JWTs, classifies error responses, and retries transient
// failures. Safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	auth        tokenSource
	retryConfig retry.Config
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the CDP API base URL, mainly for tests and
// proxies.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient builds a CDP API client around the given credentials.
func NewClient(auth *Auth, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: "https://" + apiHost,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		auth:        auth,
		retryConfig: apiRetryConfig,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doWithRetry executes an authenticated API call, retrying rate limits
// and server errors. Auth failures and other 4xx responses fail
// immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, result interface{}, walletAuth bool) error {
	_, err := retry.WithRetry(ctx, c.retryConfig, retryableAPIError, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, method, path, body, result, walletAuth)
	})
	return err
}

func retryableAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// do executes a single authenticated request. The body is marshaled to
// JSON and a 2xx response is unmarshaled into result when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}, walletAuth bool) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.auth.BearerToken(method, path)
	if err != nil {
		return fmt.Errorf("generate bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	if walletAuth {
		walletToken, err := c.auth.WalletAuthToken(method, path, bodyBytes)
		if err != nil {
			return fmt.Errorf("generate wallet auth token: %w", err)
		}
		req.Header.Set("X-Wallet-Auth", walletToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp, method, path)
	}

	if result != nil {
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classifyResponse turns a non-2xx response into an APIError with retry
// guidance: 429 and 5xx retry, 401/403 and other 4xx do not.
func classifyResponse(resp *http.Response, method, path string) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-ID"),
		Method:     method,
		Path:       path,
	}

	respBody, _ := io.ReadAll(resp.Body)
	if len(respBody) > 0 {
		apiErr.Message = string(respBody)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Type = ErrorTypeRateLimit
		apiErr.Retryable = true
		apiErr.RetryAfter = parseRetryAfter(resp)
		if apiErr.Message == "" {
			apiErr.Message = "rate limit exceeded"
		}

	case resp.StatusCode >= 500:
		apiErr.Type = ErrorTypeServerError
		apiErr.Retryable = true
		if apiErr.Message == "" {
			apiErr.Message = "CDP server error"
		}

	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Type = ErrorTypeAuthError
		if apiErr.Message == "" {
			apiErr.Message = "authentication failed, check the API credentials"
		}

	case resp.StatusCode == http.StatusForbidden:
		apiErr.Type = ErrorTypeAuthError
		if apiErr.Message == "" {
			apiErr.Message = "insufficient permissions"
		}

	default:
		apiErr.Type = ErrorTypeClientError
		if apiErr.Message == "" {
			apiErr.Message = "invalid request parameters"
		}
	}

	return apiErr
}

// parseRetryAfter reads the Retry-After header as either delta seconds
// or an HTTP date. Missing or malformed values default to 60s.
func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 60 * time.Second
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := time.Parse(time.RFC1123, retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 60 * time.Second
}
