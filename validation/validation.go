// Package validation provides structural checks for payment requirements
// and payloads. Failures are ValidationErrors naming the offending field
// so they can be surfaced verbatim in verify responses.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/x402labs/x402-go"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAmount validates that an amount string is a valid positive
// integer in atomic units.
func ValidateAmount(amount string) error {
	return validateAmount("amount", amount)
}

func validateAmount(field, amount string) error {
	if amount == "" {
		return x402.NewValidationError(field, "cannot be empty")
	}

	// Parse as big.Int to handle large values
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return x402.NewValidationError(field, fmt.Sprintf("invalid format: %s", amount))
	}

	if amt.Sign() <= 0 {
		return x402.NewValidationError(field, fmt.Sprintf("must be greater than 0, got %s", amount))
	}

	return nil
}

// ValidateAddress validates an address against the network it is meant
// for. The network may be a slug ("base") or a CAIP-2 identifier
// ("eip155:8453").
func ValidateAddress(address string, network string) error {
	return validateAddress("address", address, network)
}

func validateAddress(field, address, network string) error {
	if address == "" {
		return x402.NewValidationError(field, "cannot be empty")
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return x402.NewValidationError(field, fmt.Sprintf("cannot validate address: %v", err))
	}

	switch networkType {
	case x402.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return x402.NewValidationError(field, fmt.Sprintf("invalid EVM address: %s (expected 0x followed by 40 hex characters)", address))
		}
		return nil

	case x402.NetworkTypeSVM:
		if !solanaAddressRegex.MatchString(address) {
			return x402.NewValidationError(field, fmt.Sprintf("invalid Solana address: %s (expected base58 string 32-44 chars)", address))
		}
		return nil

	default:
		return x402.NewValidationError(field, fmt.Sprintf("unsupported network type: %d", networkType))
	}
}

// ValidatePaymentRequirement checks amount, network, addresses, scheme,
// timeout and the EIP-3009 domain fields of a payment requirement. The
// asset may be a raw address or a CAIP-19 identifier.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if err := validateAmount("amount", req.Amount); err != nil {
		return err
	}

	if req.Network == "" {
		return x402.NewValidationError("network", "cannot be empty")
	}

	networkType, err := x402.ValidateNetwork(req.Network)
	if err != nil {
		return x402.NewValidationError("network", err.Error())
	}

	if err := validateAddress("payTo", req.PayTo, req.Network); err != nil {
		return err
	}

	if req.Asset == "" {
		return x402.NewValidationError("asset", "cannot be empty")
	}

	// CAIP-19 assets validate on their address component.
	if err := validateAddress("asset", x402.AssetAddress(req.Asset), req.Network); err != nil {
		return err
	}

	switch req.Scheme {
	case "exact", "max", "subscription":
		// Valid schemes
	case "":
		return x402.NewValidationError("scheme", "cannot be empty")
	default:
		return x402.NewValidationError("scheme", fmt.Sprintf("unsupported scheme: %s", req.Scheme))
	}

	if req.MaxTimeoutSeconds < 0 {
		return x402.NewValidationError("maxTimeoutSeconds", fmt.Sprintf("cannot be negative: %d", req.MaxTimeoutSeconds))
	}

	// EIP-3009 domain parameters for EVM chains
	if networkType == x402.NetworkTypeEVM && req.Extra != nil {
		if name, ok := req.Extra["name"].(string); ok && name == "" {
			return x402.NewValidationError("extra.name", "cannot be empty")
		}
		if version, ok := req.Extra["version"].(string); ok && version == "" {
			return x402.NewValidationError("extra.version", "cannot be empty")
		}
	}

	return nil
}

// ValidatePaymentPayload checks the version, scheme, network and payload
// fields of a payment. Both protocol generations pass; scheme and
// network are read through the accessors so a V2 requirement echo is
// honored.
func ValidatePaymentPayload(payment x402.PaymentPayload) error {
	if !payment.Version().Valid() {
		return x402.NewValidationError("x402Version", fmt.Sprintf("unsupported version: %d", payment.X402Version))
	}

	if payment.AcceptedScheme() == "" {
		return x402.NewValidationError("scheme", "cannot be empty")
	}

	network := payment.AcceptedNetwork()
	if network == "" {
		return x402.NewValidationError("network", "cannot be empty")
	}

	if _, err := x402.ValidateNetwork(network); err != nil {
		return x402.NewValidationError("network", err.Error())
	}

	if payment.Payload == nil {
		return x402.NewValidationError("payload", "cannot be nil")
	}

	return nil
}
