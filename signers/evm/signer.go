// Package evm provides an x402 payment signer for EVM-compatible chains.
//
// The signer holds an ECDSA key and answers payment challenges with
// EIP-3009 transferWithAuthorization payloads for tokens that support
// gasless transfers, such as USDC. Keys can be supplied as raw hex
// (WithPrivateKey), decrypted from an encrypted keystore file
// (WithKeystore) or derived from a BIP-39 mnemonic (WithMnemonic).
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip3009"
)

// Signer implements the x402.Signer interface for EVM-compatible chains.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chainID    *big.Int
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new EVM signer with the given options. A key
// source, a network and at least one token are required. The network
// may be a V1 slug ("base") or a CAIP-2 identifier ("eip155:8453");
// slugs must name a registered chain, CAIP-2 works for any EVM chain.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	if len(s.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}

	chainID, err := x402.GetChainID(s.network)
	if err != nil {
		return nil, err
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	s.chainID = new(big.Int).SetUint64(chainID)

	return s, nil
}

// WithPrivateKey sets the private key from a hex string. A 0x prefix is
// accepted and stripped.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithNetwork sets the blockchain network the signer pays on.
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = network
		return nil
	}
}

// WithToken adds a token the signer is willing to pay with.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds a token with a priority. Lower numbers are
// preferred when a challenge offers several acceptable tokens.
func WithTokenPriority(address, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		s.tokens = append(s.tokens, x402.TokenConfig{
			Address:  address,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
		return nil
	}
}

// WithPriority sets the signer priority relative to other configured
// signers. Lower numbers are preferred.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall sets a per-payment spending limit in the token's
// atomic units.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		maxAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return x402.ErrInvalidAmount
		}
		s.maxAmount = maxAmount
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string {
	return s.network
}

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string {
	return "exact"
}

// CanSign implements x402.Signer. The requirement's network may use
// either the slug or the CAIP-2 spelling of the signer's chain, and the
// asset may be a bare contract address or a CAIP-19 identifier.
func (s *Signer) CanSign(requirements *x402.PaymentRequirement) bool {
	if !x402.NetworksEqual(requirements.Network, s.network) {
		return false
	}
	if requirements.Scheme != "exact" {
		return false
	}
	return s.token(requirements.Asset) != nil
}

// token returns the configured token matching an asset field, or nil.
func (s *Signer) token(asset string) *x402.TokenConfig {
	addr := x402.AssetAddress(asset)
	for i := range s.tokens {
		if strings.EqualFold(s.tokens[i].Address, addr) {
			return &s.tokens[i]
		}
	}
	return nil
}

// Sign implements x402.Signer. The returned payload carries the signed
// authorization plus the requirement's scheme and network; the transport
// rewrites the envelope afterwards for whichever protocol generation the
// challenge used.
func (s *Signer) Sign(requirements *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, x402.ErrNoValidSigner
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	token := s.token(requirements.Asset)

	auth, err := eip3009.New(
		s.address,
		common.HexToAddress(requirements.PayTo),
		amount,
		requirements.MaxTimeoutSeconds,
	)
	if err != nil {
		return nil, err
	}

	name, version, err := eip712Domain(requirements)
	if err != nil {
		return nil, err
	}

	signature, err := eip3009.Sign(s.privateKey, common.HexToAddress(token.Address), s.chainID, auth, name, version)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: int(x402.V1),
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload: x402.EVMPayload{
			Signature:     signature,
			Authorization: auth.Wire(),
		},
	}, nil
}

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig {
	return s.tokens
}

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// eip712Domain resolves the token contract's EIP-712 domain parameters
// from the requirement's extra data, falling back to the registry entry
// for the network. The signer must hash the same domain the verifying
// facilitator will reconstruct.
func eip712Domain(requirements *x402.PaymentRequirement) (name, version string, err error) {
	if requirements.Extra != nil {
		name, _ = requirements.Extra["name"].(string)
		version, _ = requirements.Extra["version"].(string)
	}
	if name != "" && version != "" {
		return name, version, nil
	}

	if c, ok := x402.GetChainConfig(requirements.Network); ok && c.EIP3009Name != "" {
		if name == "" {
			name = c.EIP3009Name
		}
		if version == "" {
			version = c.EIP3009Version
		}
		return name, version, nil
	}

	return "", "", x402.NewConfigurationError(
		fmt.Sprintf("EIP-712 domain parameters unavailable for %s: set extra.name and extra.version on the requirement", requirements.Network))
}
