package helpers

import (
	"log/slog"

	"github.com/x402labs/x402-go"
)

// GetPayer extracts the paying address from a signed payment payload: the
// authorization's from address for EVM payments, the transfer's funding or
// owner account for Solana payments. Returns "" when the payer cannot be
// determined locally; the facilitator response is then authoritative.
func GetPayer(payment x402.PaymentPayload) string {
	networkType, err := x402.ValidateNetwork(payment.AcceptedNetwork())
	if err != nil {
		return ""
	}

	switch networkType {
	case x402.NetworkTypeEVM:
		evm, err := x402.ParseEVMPayload(payment.Payload)
		if err != nil {
			return ""
		}
		return evm.Authorization.From
	case x402.NetworkTypeSVM:
		payer, err := payerFromTransaction(payment)
		if err != nil {
			slog.Default().Warn("failed to extract payer from solana transaction", "error", err)
			return ""
		}
		return payer
	default:
		return ""
	}
}
