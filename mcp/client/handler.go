package client

import (
	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/mcp"
)

// PaymentHandler manages payment creation and signer selection outside
// the transport, for callers that drive the challenge flow themselves.
type PaymentHandler struct {
	signers  []x402.Signer
	selector x402.PaymentSelector
}

// NewPaymentHandler creates a payment handler with the given signers.
// A nil selector falls back to x402.DefaultPaymentSelector.
func NewPaymentHandler(signers []x402.Signer, selector x402.PaymentSelector) *PaymentHandler {
	if selector == nil {
		selector = x402.NewDefaultPaymentSelector()
	}
	return &PaymentHandler{
		signers:  signers,
		selector: selector,
	}
}

// CreatePayment signs a payment satisfying one of the challenge's
// requirement options.
func (h *PaymentHandler) CreatePayment(requirements []x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if len(requirements) == 0 {
		return nil, mcp.ErrNoPaymentRequirements
	}
	if len(h.signers) == 0 {
		return nil, x402.ErrNoValidSigner
	}
	return h.selector.SelectAndSign(requirements, h.signers)
}

// CanFulfillAnyRequirement reports whether any signer can satisfy any of
// the requirement options.
func (h *PaymentHandler) CanFulfillAnyRequirement(requirements []x402.PaymentRequirement) bool {
	for i := range requirements {
		for _, signer := range h.signers {
			if signer.CanSign(&requirements[i]) {
				return true
			}
		}
	}
	return false
}

// Signers returns the configured signers.
func (h *PaymentHandler) Signers() []x402.Signer {
	return h.signers
}
