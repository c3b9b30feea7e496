// Package svm provides an x402 payment signer for Solana (SVM) networks.
//
// The signer answers payment challenges with partially signed SPL token
// transfers: it builds a TransferChecked transaction against the fee
// payer named in the challenge, signs it with the token owner's key and
// leaves the fee payer's signature slot empty. The facilitator
// countersigns and submits the transaction during settlement.
//
// Building a transaction needs a recent blockhash, so signing contacts
// a Solana RPC endpoint. The endpoint is resolved from the
// WithRPCEndpoint option, then the SOLANA_RPC_ENDPOINT environment
// variable, then the public endpoint for the configured network.
package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402labs/x402-go"
)

// Signer implements the x402.Signer interface for Solana (SVM).
type Signer struct {
	privateKey  solana.PrivateKey
	publicKey   solana.PublicKey
	network     string
	rpcEndpoint string
	tokens      []x402.TokenConfig
	priority    int
	maxAmount   *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new Solana signer with the given options. A key
// source, a network and at least one token are required. The network
// may be a V1 slug ("solana", "solana-devnet") or a CAIP-2 identifier
// ("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp").
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if len(s.privateKey) == 0 {
		return nil, x402.ErrInvalidKey
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	if len(s.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}

	if networkType, err := x402.ValidateNetwork(s.network); err != nil || networkType != x402.NetworkTypeSVM {
		return nil, fmt.Errorf("%w: %s is not a Solana network", x402.ErrInvalidNetwork, s.network)
	}
	for _, token := range s.tokens {
		if err := x402.ValidateTokenAddress(s.network, token.Address); err != nil {
			return nil, err
		}
	}

	s.publicKey = s.privateKey.PublicKey()

	return s, nil
}

// WithPrivateKey sets the private key from a base58 string.
func WithPrivateKey(base58Key string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := solana.PrivateKeyFromBase58(base58Key)
		if err != nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithKeygenFile loads the private key from a solana-keygen JSON file,
// the 64-element byte array format written by the Solana CLI.
func WithKeygenFile(path string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
		}

		var keyBytes []byte
		if err := json.Unmarshal(data, &keyBytes); err != nil {
			return fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
		}
		if len(keyBytes) != 64 {
			return fmt.Errorf("%w: invalid key length", x402.ErrInvalidKeystore)
		}

		s.privateKey = solana.PrivateKey(keyBytes)
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

// WithRPCEndpoint overrides the RPC endpoint used to fetch the recent
// blockhash while building transactions.
func WithRPCEndpoint(url string) SignerOption {
	return func(s *Signer) error {
		s.rpcEndpoint = url
		return nil
	}
}

// WithToken adds a token the signer is willing to pay with.
func WithToken(mintAddress, symbol string, decimals int) SignerOption {
	return WithTokenPriority(mintAddress, symbol, decimals, 0)
}

// WithTokenPriority adds a token with a priority. Lower numbers are
// preferred when a challenge offers several acceptable tokens.
func WithTokenPriority(mintAddress, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		s.tokens = append(s.tokens, x402.TokenConfig{
			Address:  mintAddress,
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
// either the slug or the CAIP-2 spelling of the signer's network.
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

// Sign implements x402.Signer. The returned payload carries the
// partially signed transaction plus the requirement's scheme and
// network; the transport rewrites the envelope afterwards for whichever
// protocol generation the challenge used.
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

	mint, err := solana.PublicKeyFromBase58(x402.AssetAddress(requirements.Asset))
	if err != nil {
		return nil, x402.NewValidationError("asset", "must be a base58 mint address")
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, x402.NewValidationError("payTo", "must be a base58 address")
	}
	feePayer, err := FeePayer(requirements)
	if err != nil {
		return nil, err
	}

	token := s.token(requirements.Asset)

	rpcURL, err := ResolveRPCEndpoint(s.rpcEndpoint, s.network)
	if err != nil {
		return nil, err
	}
	client := rpc.New(rpcURL)
	recent, err := client.GetLatestBlockhash(context.Background(), rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash from %s: %w", rpcURL, err)
	}

	txBase64, err := BuildTransfer(s.privateKey, TransferParams{
		Owner:     s.publicKey,
		Mint:      mint,
		Recipient: recipient,
		Amount:    amount.Uint64(),
		Decimals:  uint8(token.Decimals),
		FeePayer:  feePayer,
		Blockhash: recent.Value.Blockhash,
	})
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build transaction", err)
	}

	return &x402.PaymentPayload{
		X402Version: int(x402.V1),
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     x402.SVMPayload{Transaction: txBase64},
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

// Address returns the signer's public key as a base58 string.
func (s *Signer) Address() string {
	return s.publicKey.String()
}

// ResolveRPCEndpoint picks the Solana RPC endpoint used to fetch
// blockhashes: the explicit endpoint when non-empty, then the
// SOLANA_RPC_ENDPOINT environment variable, then the public endpoint for
// the network. Remote signers that build SVM transactions share this
// resolution order.
func ResolveRPCEndpoint(explicit, network string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if url := os.Getenv("SOLANA_RPC_ENDPOINT"); url != "" {
		return url, nil
	}

	if c, ok := x402.GetChainConfig(network); ok {
		network = c.NetworkID
	}
	switch network {
	case "solana":
		return rpc.MainNetBeta_RPC, nil
	case "solana-devnet":
		return rpc.DevNet_RPC, nil
	default:
		return "", fmt.Errorf("%w: no public RPC endpoint for %s", x402.ErrInvalidNetwork, network)
	}
}

// FeePayer extracts the facilitator's fee payer account from the
// requirement's extra data. SVM challenges must name the fee payer so
// the client can build a transaction the facilitator will countersign.
func FeePayer(requirements *x402.PaymentRequirement) (solana.PublicKey, error) {
	if requirements.Extra == nil {
		return solana.PublicKey{}, x402.NewValidationError("extra.feePayer", "is required for SVM payments")
	}
	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return solana.PublicKey{}, x402.NewValidationError("extra.feePayer", "is required for SVM payments")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return solana.PublicKey{}, x402.NewValidationError("extra.feePayer", "must be a base58 address")
	}
	return feePayer, nil
}
