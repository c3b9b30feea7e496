package coinbase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/x402labs/x402-go/retry"
)

// staticTokens stands in for Auth in client tests. Token minting itself
// is covered by the Auth tests.
type staticTokens struct{}

func (staticTokens) BearerToken(method, path string) (string, error) {
	return "bearer-token", nil
}

func (staticTokens) WalletAuthToken(method, path string, body []byte) (string, error) {
	return "wallet-token", nil
}

// newTestClient builds a Client against the test server with retry
// delays shrunk to keep the suite fast.
func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		baseURL:    srv.URL,
		httpClient: srv.Client(),
		auth:       staticTokens{},
		retryConfig: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     4 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func TestNewClient(t *testing.T) {
	ecPEM, _ := ecKeyPEM(t)
	auth, err := NewAuth(testKeyID, ecPEM, "")
	if err != nil {
		t.Fatalf("NewAuth returned error: %v", err)
	}

	c := NewClient(auth)
	if c.baseURL != "https://api.cdp.coinbase.com" {
		t.Errorf("baseURL = %q, want the CDP API host", c.baseURL)
	}
	if c.httpClient.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.httpClient.Timeout)
	}

	custom := &http.Client{Timeout: time.Second}
	c = NewClient(auth, WithBaseURL("https://cdp.example.test"), WithHTTPClient(custom))
	if c.baseURL != "https://cdp.example.test" {
		t.Errorf("baseURL = %q, want https://cdp.example.test", c.baseURL)
	}
	if c.httpClient != custom {
		t.Error("WithHTTPClient did not replace the HTTP client")
	}
}

func TestDoSetsHeaders(t *testing.T) {
	tests := []struct {
		name       string
		walletAuth bool
		wantWallet string
	}{
		{name: "bearer token only", walletAuth: false, wantWallet: ""},
		{name: "wallet auth adds X-Wallet-Auth", walletAuth: true, wantWallet: "wallet-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer bearer-token" {
					t.Errorf("Authorization = %q, want Bearer bearer-token", got)
				}
				if got := r.Header.Get("Content-Type"); got != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", got)
				}
				if got := r.Header.Get("Accept"); got != "application/json" {
					t.Errorf("Accept = %q, want application/json", got)
				}
				if got := r.Header.Get("X-Wallet-Auth"); got != tt.wantWallet {
					t.Errorf("X-Wallet-Auth = %q, want %q", got, tt.wantWallet)
				}
				w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			c := newTestClient(srv)
			if err := c.do(context.Background(), http.MethodPost, "/test", map[string]string{"a": "b"}, nil, tt.walletAuth); err != nil {
				t.Fatalf("do returned error: %v", err)
			}
		})
	}
}

func TestDoDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"acct-1","name":"payments","address":"0x742d35Cc6634C0532925a3b844Bc454e4438f44e"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	var account Account
	if err := c.do(context.Background(), http.MethodGet, "/test", nil, &account, false); err != nil {
		t.Fatalf("do returned error: %v", err)
	}
	if account.ID != "acct-1" || account.Name != "payments" {
		t.Errorf("decoded account = %+v, want id acct-1 name payments", account)
	}
	if account.Address != "0x742d35Cc6634C0532925a3b844Bc454e4438f44e" {
		t.Errorf("decoded address = %q", account.Address)
	}
}

func TestDoClassifiesResponses(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantType      string
		wantRetryable bool
		wantMessage   string
	}{
		{name: "400 is a client error", status: 400, wantType: ErrorTypeClientError, wantMessage: "invalid request parameters"},
		{name: "401 is an auth error", status: 401, wantType: ErrorTypeAuthError, wantMessage: "authentication failed, check the API credentials"},
		{name: "403 is an auth error", status: 403, wantType: ErrorTypeAuthError, wantMessage: "insufficient permissions"},
		{name: "404 is a client error", status: 404, wantType: ErrorTypeClientError, wantMessage: "invalid request parameters"},
		{name: "429 is retryable", status: 429, wantType: ErrorTypeRateLimit, wantRetryable: true, wantMessage: "rate limit exceeded"},
		{name: "500 is retryable", status: 500, wantType: ErrorTypeServerError, wantRetryable: true, wantMessage: "CDP server error"},
		{name: "503 is retryable", status: 503, wantType: ErrorTypeServerError, wantRetryable: true, wantMessage: "CDP server error"},
		{name: "body becomes the message", status: 500, body: "backend exploded", wantType: ErrorTypeServerError, wantRetryable: true, wantMessage: "backend exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			}))
			defer srv.Close()

			c := newTestClient(srv)
			err := c.do(context.Background(), http.MethodGet, "/test", nil, nil, false)
			if err == nil {
				t.Fatal("do returned nil error, want APIError")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("do returned %T, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", apiErr.Type, tt.wantType)
			}
			if apiErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", apiErr.Retryable, tt.wantRetryable)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if (apiErr.StatusCode == http.StatusNotFound) != apiErr.NotFound() {
				t.Errorf("NotFound() = %v for status %d", apiErr.NotFound(), apiErr.StatusCode)
			}
		})
	}
}

func TestDoRateLimitDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("X-Request-ID", "req-123")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.do(context.Background(), http.MethodGet, "/test", nil, nil, false)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("do returned %T, want *APIError", err)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", apiErr.RetryAfter)
	}
	if apiErr.RetryDelayHint() != 7*time.Second {
		t.Errorf("RetryDelayHint() = %v, want 7s", apiErr.RetryDelayHint())
	}
	if apiErr.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", apiErr.RequestID)
	}
	if msg := apiErr.Error(); !strings.Contains(msg, "request id req-123") || !strings.Contains(msg, "429") {
		t.Errorf("Error() = %q, want the status and request id in the message", msg)
	}
}

func TestDoWithRetryRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id":"acct-1","address":"0xabc"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	var account Account
	if err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, &account, false); err != nil {
		t.Fatalf("doWithRetry returned error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
	if account.ID != "acct-1" {
		t.Errorf("decoded account ID = %q, want acct-1", account.ID)
	}
}

func TestDoWithRetryStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil, false)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("doWithRetry returned %T, want *APIError", err)
	}
	if apiErr.Retryable {
		t.Error("Retryable = true for a 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestDoWithRetryExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil, false)
	if err == nil {
		t.Fatal("doWithRetry returned nil error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want MaxAttempts (3)", got)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("doWithRetry returned %T, want *APIError", err)
	}
	if apiErr.Type != ErrorTypeServerError {
		t.Errorf("Type = %q, want %q", apiErr.Type, ErrorTypeServerError)
	}
}

func TestDoWithRetryCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(srv)
	err := c.doWithRetry(ctx, http.MethodGet, "/test", nil, nil, false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("doWithRetry error = %v, want context.Canceled", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    time.Duration
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "missing header defaults to 60s", header: "", want: 60 * time.Second},
		{name: "delta seconds", header: "30", want: 30 * time.Second},
		{name: "zero seconds", header: "0", want: 0},
		{name: "negative seconds default to 60s", header: "-5", want: 60 * time.Second},
		{name: "garbage defaults to 60s", header: "soon", want: 60 * time.Second},
		{
			name:    "http date",
			header:  time.Now().UTC().Add(45 * time.Second).Format(time.RFC1123),
			wantMin: 40 * time.Second,
			wantMax: 50 * time.Second,
		},
		{name: "past http date defaults to 60s", header: time.Now().UTC().Add(-time.Hour).Format(time.RFC1123), want: 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}

			got := parseRetryAfter(resp)
			if tt.wantMin != 0 || tt.wantMax != 0 {
				if got < tt.wantMin || got > tt.wantMax {
					t.Errorf("parseRetryAfter() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
				}
				return
			}
			if got != tt.want {
				t.Errorf("parseRetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}
