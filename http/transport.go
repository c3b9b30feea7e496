package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
	"github.com/x402labs/x402-go/extensions"
)

// X402Transport is a custom RoundTripper that handles x402 payment flows.
// It wraps an existing http.RoundTripper and automatically handles 402
// Payment Required responses of either protocol generation: the challenge
// is parsed from the version's challenge header or the response body, a
// signer is selected, and the request is retried with the payment header
// the challenge's generation expects.
type X402Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Signers is the list of available payment signers.
	Signers []x402.Signer

	// Selector is used to choose the appropriate signer and create payments.
	Selector x402.PaymentSelector

	// Hooks answer extension declarations on V2 challenges before the
	// payment is sent.
	Hooks []extensions.Hook

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment succeeds.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback
}

// RoundTrip implements http.RoundTripper.
// It makes the initial request, and if a 402 Payment Required response is
// received, it automatically signs a payment and retries the request.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Base == nil {
		t.Base = http.DefaultTransport
	}

	// Clone the request to avoid modifying the original.
	reqCopy := req.Clone(req.Context())

	resp, err := t.Base.RoundTrip(reqCopy)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := parseChallenge(resp)
	resp.Body.Close()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to parse payment requirements", err)
	}

	payment, err := t.Selector.SelectAndSign(challenge.Accepts, t.Signers)
	if err != nil {
		t.failureEvent(req, err, 0)
		return nil, err
	}

	// Signers produce the chain payload; the envelope answers in the
	// challenge's generation.
	x402.ConformPayment(challenge, payment)

	if payment.Version() == x402.V2 {
		if err := t.applyHooks(req, challenge, payment); err != nil {
			return nil, err
		}
	}

	// The selected requirement supplies callback data.
	selectedRequirement, _ := x402.FindMatchingRequirement(*payment, challenge.Accepts)

	startTime := time.Now()

	if t.OnPaymentAttempt != nil && selectedRequirement != nil {
		event := x402.PaymentEvent{
			Type:      x402.PaymentEventAttempt,
			Timestamp: startTime,
			Method:    "HTTP",
			URL:       req.URL.String(),
			Network:   payment.AcceptedNetwork(),
			Scheme:    payment.AcceptedScheme(),
			Amount:    selectedRequirement.Amount,
			Asset:     selectedRequirement.Asset,
			Recipient: selectedRequirement.PayTo,
		}
		t.OnPaymentAttempt(event)
	}

	paymentHeader, err := encoding.EncodePayment(payment)
	if err != nil {
		t.failureEvent(req, err, time.Since(startTime))
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build payment header", err)
	}

	// Clone the request again for the retry. The first attempt consumed
	// the body; GetBody rewinds it when the caller provided one.
	reqRetry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		reqRetry.Body = body
	}
	reqRetry.Header.Set(payment.Version().PaymentHeader(), paymentHeader)

	respRetry, err := t.Base.RoundTrip(reqRetry)
	duration := time.Since(startTime)

	if err != nil {
		t.failureEvent(req, err, duration)
		return nil, err
	}

	settlement := settlementFromResponse(respRetry)

	if settlement != nil && settlement.Success && t.OnPaymentSuccess != nil {
		event := x402.PaymentEvent{
			Type:        x402.PaymentEventSuccess,
			Timestamp:   time.Now(),
			Method:      "HTTP",
			URL:         req.URL.String(),
			Transaction: settlement.Transaction,
			Payer:       settlement.Payer,
			Duration:    duration,
		}
		if selectedRequirement != nil {
			event.Network = selectedRequirement.Network
			event.Scheme = selectedRequirement.Scheme
			event.Amount = selectedRequirement.Amount
			event.Asset = selectedRequirement.Asset
			event.Recipient = selectedRequirement.PayTo
		}
		t.OnPaymentSuccess(event)
	}

	return respRetry, nil
}

// applyHooks seeds the payment's extensions map with the challenge's
// declarations for every key a hook answers, then runs the hooks.
func (t *X402Transport) applyHooks(req *http.Request, challenge *x402.PaymentRequired, payment *x402.PaymentPayload) error {
	if len(t.Hooks) == 0 || len(challenge.Extensions) == 0 {
		return nil
	}

	for _, hook := range t.Hooks {
		declaration, ok := challenge.Extensions[hook.Key()]
		if !ok {
			continue
		}
		if payment.Extensions == nil {
			payment.Extensions = make(map[string]x402.Extension)
		}
		if _, exists := payment.Extensions[hook.Key()]; !exists {
			payment.Extensions[hook.Key()] = declaration
		}
	}

	if err := extensions.ApplyHooks(req.Context(), t.Hooks, payment); err != nil {
		t.failureEvent(req, err, 0)
		return err
	}
	return nil
}

// failureEvent triggers the failure callback, if any.
func (t *X402Transport) failureEvent(req *http.Request, err error, duration time.Duration) {
	if t.OnPaymentFailure == nil {
		return
	}
	t.OnPaymentFailure(x402.PaymentEvent{
		Type:      x402.PaymentEventFailure,
		Timestamp: time.Now(),
		Method:    "HTTP",
		URL:       req.URL.String(),
		Error:     err,
		Duration:  duration,
	})
}

// parseChallenge extracts the payment challenge from a 402 response. The
// generation's challenge header wins when present (PAYMENT-REQUIRED, then
// X-PAYMENT-REQUIRED); otherwise the response body carries the challenge
// as plain JSON.
func parseChallenge(resp *http.Response) (*x402.PaymentRequired, error) {
	if value := resp.Header.Get(x402.HeaderPaymentRequiredV2); value != "" {
		return encoding.DecodeRequired(value, x402.V2)
	}
	if value := resp.Header.Get(x402.HeaderPaymentRequiredV1); value != "" {
		return encoding.DecodeRequired(value, x402.V1)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	challenge, err := encoding.DecodeRequired(string(body), x402.V1)
	if err != nil {
		return nil, err
	}
	if len(challenge.Accepts) == 0 {
		return nil, fmt.Errorf("no payment requirements in response")
	}
	return challenge, nil
}

// settlementFromResponse extracts settlement information from the response
// header of either generation. Returns nil when absent or unparseable.
func settlementFromResponse(resp *http.Response) *x402.SettlementResponse {
	value := resp.Header.Get(x402.HeaderPaymentRespV2)
	if value == "" {
		value = resp.Header.Get(x402.HeaderPaymentRespV1)
	}
	if value == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettlement(value)
	if err != nil {
		return nil
	}
	return settlement
}

// RequestWithBody clones an HTTP request with a new body.
// This is needed because request bodies can only be read once.
func RequestWithBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}
