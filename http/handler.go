package http

import (
	"context"

	"github.com/x402labs/x402-go"
)

// contextKey is the private type for request-context values, preventing
// collisions with other packages.
type contextKey string

const (
	// PaymentContextKey carries the *x402.VerifyResponse for a verified
	// payment.
	PaymentContextKey = contextKey("x402_payment")

	// PayloadContextKey carries the decoded *x402.PaymentPayload.
	PayloadContextKey = contextKey("x402_payment_payload")
)

// PaymentFromContext returns the verification result for the request's
// payment. It is populated for every request that passed the middleware
// with a valid payment.
func PaymentFromContext(ctx context.Context) (*x402.VerifyResponse, bool) {
	verify, ok := ctx.Value(PaymentContextKey).(*x402.VerifyResponse)
	return verify, ok
}

// PayloadFromContext returns the decoded payment payload for the request,
// for handlers that need scheme-specific fields beyond the verification
// summary.
func PayloadFromContext(ctx context.Context) (*x402.PaymentPayload, bool) {
	payload, ok := ctx.Value(PayloadContextKey).(*x402.PaymentPayload)
	return payload, ok
}
