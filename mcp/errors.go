package mcp

import (
	"errors"
	"fmt"

	"github.com/x402labs/x402-go"
)

// ErrNoPaymentRequirements indicates a 402 tool error whose data carried
// no payment options to satisfy.
var ErrNoPaymentRequirements = errors.New("no payment requirements in 402 error")

// PaymentError wraps a payment failure with the tool call it belongs to.
type PaymentError struct {
	Err  error
	Tool string
}

func (e *PaymentError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("payment error for tool %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("payment error: %v", e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WrapError attaches tool context to a payment failure. A nil error stays
// nil.
func WrapError(err error, tool string) error {
	if err == nil {
		return nil
	}
	return &PaymentError{Err: err, Tool: tool}
}

// IsPaymentError reports whether an error originated in the payment flow,
// as opposed to the tool call itself failing.
func IsPaymentError(err error) bool {
	if err == nil {
		return false
	}
	var paymentErr *PaymentError
	return errors.As(err, &paymentErr) ||
		errors.Is(err, ErrNoPaymentRequirements) ||
		errors.Is(err, x402.ErrPaymentRequired) ||
		errors.Is(err, x402.ErrNoValidSigner) ||
		errors.Is(err, x402.ErrSigningFailed) ||
		errors.Is(err, x402.ErrVerificationFailed) ||
		errors.Is(err, x402.ErrSettlementFailed) ||
		errors.Is(err, x402.ErrFacilitatorUnavailable) ||
		errors.Is(err, x402.ErrAmountExceeded) ||
		errors.Is(err, x402.ErrInvalidRequirements) ||
		errors.Is(err, x402.ErrMalformedHeader)
}
