// Package facilitator verifies and settles x402 payments.
//
// A facilitator checks that a payment authorization is genuine and
// executes it on chain. This package defines the interface shared by the
// in-process orchestrator (Local) and remote HTTP facilitators, the
// request bodies of the facilitator wire protocol, URL routing across
// multiple facilitators, and capability discovery.
package facilitator

import (
	"context"

	"github.com/x402labs/x402-go"
)

// Interface defines the standard facilitator contract for payment verification and settlement.
// Local, HTTP and MCP facilitator implementations all satisfy this interface.
type Interface interface {
	// Verify verifies a payment authorization without executing the transaction.
	// It checks that the payment payload is valid, properly signed, unspent
	// and inside its validity window.
	Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	// Implementations re-verify before submitting.
	Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error)

	// Supported queries the facilitator for supported payment kinds,
	// extensions and signers.
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// VerifyRequest is the request body sent to POST /verify.
type VerifyRequest struct {
	// X402Version is the protocol version of the enclosed payload.
	X402Version int `json:"x402Version"`

	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the payment option that was accepted.
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// SettleRequest is the request body sent to POST /settle.
type SettleRequest struct {
	// X402Version is the protocol version of the enclosed payload.
	X402Version int `json:"x402Version"`

	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the payment option that was accepted.
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}
