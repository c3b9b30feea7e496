package x402

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// ChainConfig contains chain-specific configuration for USDC tokens and payment requirements.
// All USDC addresses and EIP-3009 parameters were verified on 2025-10-28.
type ChainConfig struct {
	// NetworkID is the V1 network identifier (e.g., "base", "solana").
	NetworkID string

	// CAIP2 is the V2 network identifier (e.g., "eip155:8453").
	CAIP2 string

	// ChainID is the EVM chain ID (0 for non-EVM chains).
	ChainID uint64

	// USDCAddress is the official Circle USDC contract address or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-3009 domain parameter "name" (empty for non-EVM chains).
	EIP3009Name string

	// EIP3009Version is the EIP-3009 domain parameter "version" (empty for non-EVM chains).
	EIP3009Version string
}

// Type returns the virtual machine type of the chain.
func (c ChainConfig) Type() NetworkType {
	if c.ChainID != 0 {
		return NetworkTypeEVM
	}
	return NetworkTypeSVM
}

// USDCRequirementConfig is the configuration for creating a USDC PaymentRequirement.
// This is a convenience helper for USDC payments. For other tokens, construct
// PaymentRequirement directly.
type USDCRequirementConfig struct {
	// Chain is the chain configuration with USDC details (required).
	Chain ChainConfig

	// Amount is the human-readable USDC amount (e.g., "1.5" = 1.5 USDC).
	// Zero amounts ("0" or "0.0") are allowed for free-with-signature authorization flows.
	Amount string

	// RecipientAddress is the payment recipient address (required).
	RecipientAddress string

	// Scheme is the payment scheme (optional, defaults to "exact").
	Scheme string

	// MaxTimeoutSeconds is the maximum payment timeout (optional, defaults to 300).
	MaxTimeoutSeconds uint32

	// MimeType is the response MIME type (optional, defaults to "application/json").
	MimeType string
}

// Mainnet chain configurations
var (
	// SolanaMainnet is the configuration for Solana mainnet.
	// USDC address verified 2025-10-28.
	SolanaMainnet = ChainConfig{
		NetworkID:   "solana",
		CAIP2:       "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}

	// BaseMainnet is the configuration for Base mainnet.
	// USDC address and EIP-3009 parameters verified 2025-10-28.
	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		CAIP2:          "eip155:8453",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	// USDC address and EIP-3009 parameters verified 2025-10-28.
	PolygonMainnet = ChainConfig{
		NetworkID:      "polygon",
		CAIP2:          "eip155:137",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	// USDC address and EIP-3009 parameters verified 2025-10-28.
	AvalancheMainnet = ChainConfig{
		NetworkID:      "avalanche",
		CAIP2:          "eip155:43114",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Testnet chain configurations
var (
	// SolanaDevnet is the configuration for Solana devnet.
	// USDC address verified 2025-10-28.
	SolanaDevnet = ChainConfig{
		NetworkID:   "solana-devnet",
		CAIP2:       "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}

	// BaseSepolia is the configuration for Base Sepolia testnet.
	// USDC address and EIP-3009 parameters verified 2025-10-30 via on-chain contract read.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		CAIP2:          "eip155:84532",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	// USDC address and EIP-3009 parameters verified 2025-10-28.
	PolygonAmoy = ChainConfig{
		NetworkID:      "polygon-amoy",
		CAIP2:          "eip155:80002",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// AvalancheFuji is the configuration for Avalanche Fuji testnet.
	// USDC address and EIP-3009 parameters verified 2025-10-28.
	AvalancheFuji = ChainConfig{
		NetworkID:      "avalanche-fuji",
		CAIP2:          "eip155:43113",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// chainConfigs is the read-only network registry, keyed by both the V1 slug
// and the CAIP-2 identifier of every known chain. It is initialized once and
// never mutated afterwards.
var chainConfigs = func() map[string]ChainConfig {
	m := make(map[string]ChainConfig)
	for _, c := range []ChainConfig{
		SolanaMainnet, BaseMainnet, PolygonMainnet, AvalancheMainnet,
		SolanaDevnet, BaseSepolia, PolygonAmoy, AvalancheFuji,
	} {
		m[c.NetworkID] = c
		m[c.CAIP2] = c
	}
	return m
}()

// GetChainConfig looks up a chain by V1 slug or CAIP-2 identifier.
func GetChainConfig(network string) (ChainConfig, bool) {
	c, ok := chainConfigs[network]
	return c, ok
}

// NewUSDCTokenConfig creates a TokenConfig for USDC on the given chain with the specified priority.
// This is a convenience helper for USDC. For other tokens, construct TokenConfig directly.
// The returned TokenConfig has:
//   - Address set to the chain's USDC address
//   - Symbol set to "USDC"
//   - Decimals set to 6
//   - Priority set to the provided value (lower numbers = higher priority)
func NewUSDCTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: 6,
		Priority: priority,
	}
}

// NewUSDCPaymentRequirement creates a PaymentRequirement for USDC from the given configuration.
// This is a convenience helper for USDC payments. For other tokens, construct PaymentRequirement directly.
// It validates inputs, converts the amount to atomic units (assuming 6 decimals for USDC),
// applies defaults for optional fields, and populates EIP-3009 parameters for EVM chains.
//
// Amount conversion uses standard float64 rounding (banker's rounding) for precision beyond 6 decimals.
// Zero amounts ("0" or "0.0") are explicitly allowed for free-with-signature authorization flows.
//
// Default values:
//   - Scheme: "exact"
//   - MaxTimeoutSeconds: 300
//   - MimeType: "application/json"
//
// Returns an error if validation fails. Error format: "parameterName: reason"
func NewUSDCPaymentRequirement(config USDCRequirementConfig) (PaymentRequirement, error) {
	// Validate recipient address
	if config.RecipientAddress == "" {
		return PaymentRequirement{}, fmt.Errorf("recipientAddress: cannot be empty")
	}

	// Parse and validate amount
	amount, err := strconv.ParseFloat(config.Amount, 64)
	if err != nil {
		return PaymentRequirement{}, fmt.Errorf("amount: invalid format")
	}
	if amount < 0 {
		return PaymentRequirement{}, fmt.Errorf("amount: must be non-negative")
	}

	// Convert to atomic units (USDC always has 6 decimals)
	atomicUnits := uint64(math.RoundToEven(amount * 1e6))
	atomicString := strconv.FormatUint(atomicUnits, 10)

	// Apply defaults
	scheme := config.Scheme
	if scheme == "" {
		scheme = "exact"
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}

	mimeType := config.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	// Create base payment requirement
	req := PaymentRequirement{
		Scheme:            scheme,
		Network:           config.Chain.NetworkID,
		Amount:            atomicString,
		Asset:             config.Chain.USDCAddress,
		PayTo:             config.RecipientAddress,
		MimeType:          mimeType,
		MaxTimeoutSeconds: int(maxTimeout),
	}

	// Populate EIP-3009 extra field for EVM chains
	if config.Chain.EIP3009Name != "" {
		req.Extra = map[string]interface{}{
			"name":    config.Chain.EIP3009Name,
			"version": config.Chain.EIP3009Version,
		}
	}

	return req, nil
}

// ValidateNetwork validates a network identifier and returns its type.
// Returns NetworkTypeEVM for EVM chains, NetworkTypeSVM for Solana chains,
// or NetworkTypeUnknown with an error for unrecognized networks.
//
// Both generations are accepted:
//   - V1 slugs: base, base-sepolia, polygon, polygon-amoy, avalanche,
//     avalanche-fuji, solana, solana-devnet
//   - V2 CAIP-2: eip155:<chainId>, solana:<genesisHash>
func ValidateNetwork(networkID string) (NetworkType, error) {
	if networkID == "" {
		return NetworkTypeUnknown, fmt.Errorf("networkID: cannot be empty")
	}

	if rest, ok := strings.CutPrefix(networkID, "eip155:"); ok {
		if _, err := strconv.ParseUint(rest, 10, 64); err != nil {
			return NetworkTypeUnknown, fmt.Errorf("networkID: malformed CAIP-2 chain reference %q", rest)
		}
		return NetworkTypeEVM, nil
	}
	if rest, ok := strings.CutPrefix(networkID, "solana:"); ok {
		if rest == "" {
			return NetworkTypeUnknown, fmt.Errorf("networkID: malformed CAIP-2 chain reference")
		}
		return NetworkTypeSVM, nil
	}

	c, ok := chainConfigs[networkID]
	if !ok {
		return NetworkTypeUnknown, fmt.Errorf("networkID: unsupported network")
	}
	return c.Type(), nil
}

// GetChainID returns the EVM chain ID for a network given as a V1 slug or a
// CAIP-2 identifier. Non-EVM networks return an error.
func GetChainID(network string) (uint64, error) {
	if rest, ok := strings.CutPrefix(network, "eip155:"); ok {
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
		}
		return id, nil
	}
	c, ok := chainConfigs[network]
	if !ok || c.ChainID == 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	return c.ChainID, nil
}

// FormatCAIP2 builds the CAIP-2 identifier for an EVM chain ID.
func FormatCAIP2(chainID uint64) string {
	return "eip155:" + strconv.FormatUint(chainID, 10)
}

// FormatCAIP19 builds the CAIP-19 identifier for an ERC-20 asset.
func FormatCAIP19(chainID uint64, address string) string {
	return FormatCAIP2(chainID) + "/erc20:" + address
}

// ParseCAIP19 splits a CAIP-19 asset identifier like
// "eip155:8453/erc20:0x8335..." into its chain ID and contract address.
func ParseCAIP19(asset string) (chainID uint64, address string, err error) {
	chainPart, assetPart, found := strings.Cut(asset, "/")
	if !found {
		return 0, "", fmt.Errorf("malformed CAIP-19 asset: %s", asset)
	}
	chainID, err = GetChainID(chainPart)
	if err != nil {
		return 0, "", err
	}
	address, ok := strings.CutPrefix(assetPart, "erc20:")
	if !ok || address == "" {
		return 0, "", fmt.Errorf("malformed CAIP-19 asset namespace: %s", asset)
	}
	return chainID, address, nil
}

// AssetAddress extracts the bare contract or mint address from an asset
// field, which may be a plain address (V1) or a CAIP-19 identifier (V2).
func AssetAddress(asset string) string {
	if _, addr, err := ParseCAIP19(asset); err == nil {
		return addr
	}
	return asset
}

// NetworksEqual reports whether two network identifiers name the same
// chain, across the slug and CAIP-2 representations.
func NetworksEqual(a, b string) bool {
	if a == b {
		return true
	}
	ca, okA := chainConfigs[a]
	cb, okB := chainConfigs[b]
	return okA && okB && ca.NetworkID == cb.NetworkID
}

// NetworkVersion reports the protocol generation a network spelling
// belongs to: CAIP-2 identifiers (eip155:8453) are V2, slugs (base) are
// V1. A requirement's generation is its network spelling, so a payload
// of the other generation never satisfies it even though NetworksEqual
// folds both spellings onto one chain.
func NetworkVersion(network string) Version {
	if strings.Contains(network, ":") {
		return V2
	}
	return V1
}

// ValidateTokenAddress validates that a token address matches the network type.
// Returns an error if the address format is invalid for the network type.
//
// For EVM networks (base, polygon, avalanche, etc.):
//   - Address must be 0x-prefixed hex string (42 characters total)
//   - Example: 0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913
//
// For Solana networks (solana, solana-devnet):
//   - Address must be base58 encoded (32-44 characters)
//   - Cannot contain 0, O, I, l characters (not valid in base58)
//   - Example: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
func ValidateTokenAddress(networkID, address string) error {
	if address == "" {
		return fmt.Errorf("token address cannot be empty")
	}

	// Get network type
	netType, err := ValidateNetwork(networkID)
	if err != nil {
		return err
	}

	switch netType {
	case NetworkTypeEVM:
		// EVM addresses must be 0x-prefixed hex (42 chars: 0x + 40 hex digits)
		if len(address) != 42 {
			return fmt.Errorf("token address '%s' is invalid for EVM network '%s', expected 0x-prefixed hex address (42 chars)", address, networkID)
		}
		if address[0:2] != "0x" && address[0:2] != "0X" {
			return fmt.Errorf("token address '%s' is invalid for EVM network '%s', expected 0x-prefixed hex address (42 chars)", address, networkID)
		}
		// Validate hex characters
		for i := 2; i < len(address); i++ {
			c := address[i]
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return fmt.Errorf("token address '%s' is invalid for EVM network '%s', expected 0x-prefixed hex address (42 chars)", address, networkID)
			}
		}

	case NetworkTypeSVM:
		// Solana addresses are base58 encoded (typically 32-44 chars)
		if len(address) < 32 || len(address) > 44 {
			return fmt.Errorf("token address '%s' is invalid for Solana network '%s', expected base58 address (32-44 chars)", address, networkID)
		}
		// Base58 character set: 123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz
		// Does NOT include: 0, O, I, l
		for i := 0; i < len(address); i++ {
			c := address[i]
			if c == '0' || c == 'O' || c == 'I' || c == 'l' {
				return fmt.Errorf("token address '%s' is invalid for Solana network '%s', expected base58 address (32-44 chars)", address, networkID)
			}
			// Check if character is in base58 set
			if !((c >= '1' && c <= '9') || (c >= 'A' && c <= 'Z' && c != 'I' && c != 'O') || (c >= 'a' && c <= 'z' && c != 'l')) {
				return fmt.Errorf("token address '%s' is invalid for Solana network '%s', expected base58 address (32-44 chars)", address, networkID)
			}
		}
	}

	return nil
}
