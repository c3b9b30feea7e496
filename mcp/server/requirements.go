package server

import (
	"github.com/x402labs/x402-go"
)

// RequireUSDC builds a USDC payment option for a tool on the given
// chain. The amount is human-readable USDC ("1.5" = 1.5 USDC); tool
// call windows default to 60 seconds so an authorization cannot be
// replayed long after the call.
func RequireUSDC(chain x402.ChainConfig, payTo, amount, description string) (x402.PaymentRequirement, error) {
	req, err := x402.NewUSDCPaymentRequirement(x402.USDCRequirementConfig{
		Chain:             chain,
		Amount:            amount,
		RecipientAddress:  payTo,
		MaxTimeoutSeconds: 60,
	})
	if err != nil {
		return x402.PaymentRequirement{}, err
	}
	req.Description = description
	return req, nil
}

// RequireUSDCBase builds a USDC payment option on Base mainnet.
func RequireUSDCBase(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return RequireUSDC(x402.BaseMainnet, payTo, amount, description)
}

// RequireUSDCBaseSepolia builds a USDC payment option on Base Sepolia.
func RequireUSDCBaseSepolia(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return RequireUSDC(x402.BaseSepolia, payTo, amount, description)
}

// RequireUSDCPolygon builds a USDC payment option on Polygon.
func RequireUSDCPolygon(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return RequireUSDC(x402.PolygonMainnet, payTo, amount, description)
}

// RequireUSDCSolana builds a USDC payment option on Solana.
func RequireUSDCSolana(payTo, amount, description string) (x402.PaymentRequirement, error) {
	return RequireUSDC(x402.SolanaMainnet, payTo, amount, description)
}
