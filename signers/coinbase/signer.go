// Package coinbase signs x402 payments with Coinbase Developer Platform
// (CDP) wallets. Private keys never leave CDP: the signer resolves a
// named server wallet at construction and submits EIP-712 typed data
// (EVM) or serialized transactions (SVM) to the CDP signing endpoints.
//
// Credentials come from WithCredentials or WithCredentialsFromEnv. The
// account name identifies the wallet within the CDP project and is
// created on first use.
package coinbase

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/x402labs/x402-go"
)

// Signer implements the x402.Signer interface on top of CDP server
// wallets.
type Signer struct {
	client      *Client
	auth        *Auth
	accountName string
	address     string
	network     string
	networkType x402.NetworkType
	chainID     *big.Int
	tokens      []x402.TokenConfig
	priority    int
	maxAmount   *big.Int

	// domainName and domainVersion override EIP-712 domain parameters
	// for EVM tokens whose contracts use non-registry values.
	domainName    string
	domainVersion string

	// rpcEndpoint overrides the Solana RPC endpoint used to fetch
	// blockhashes for SVM payments.
	rpcEndpoint string
}

// SignerOption is a functional option for configuring a Signer.
type SignerOption func(*Signer) error

// NewSigner builds a CDP signer bound to the named account, resolving or
// creating the account over the CDP API. Account names are unique per
// CDP project: 2 to 36 alphanumeric or hyphen characters, starting and
// ending alphanumeric. At least one token must be configured via
// WithToken or WithTokenPriority.
func NewSigner(ctx context.Context, accountName string, opts ...SignerOption) (*Signer, error) {
	s := &Signer{accountName: accountName}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.auth == nil && s.client == nil {
		return nil, x402.NewConfigurationError(
			"CDP credentials are required: use WithCredentials or WithCredentialsFromEnv")
	}
	if err := validateAccountName(s.accountName); err != nil {
		return nil, err
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	networkType, err := x402.ValidateNetwork(s.network)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidNetwork, s.network)
	}
	s.networkType = networkType
	if _, err := cdpNetworkID(s.network); err != nil {
		return nil, err
	}
	if len(s.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}
	for _, token := range s.tokens {
		if err := x402.ValidateTokenAddress(s.network, token.Address); err != nil {
			return nil, err
		}
	}

	if s.networkType == x402.NetworkTypeEVM {
		chainID, err := x402.GetChainID(s.network)
		if err != nil {
			return nil, err
		}
		s.chainID = new(big.Int).SetUint64(chainID)
	}

	if s.client == nil {
		s.client = NewClient(s.auth)
	}

	account, err := CreateOrGetAccount(ctx, s.client, s.network, s.accountName)
	if err != nil {
		return nil, err
	}
	s.address = account.Address

	return s, nil
}

// WithCredentials sets the CDP API credentials. The key secret accepts
// PEM or bare base64 key material as issued by CDP; the wallet secret is
// optional and signs wallet auth tokens when present.
func WithCredentials(keyID, keySecret, walletSecret string) SignerOption {
	return func(s *Signer) error {
		auth, err := NewAuth(keyID, keySecret, walletSecret)
		if err != nil {
			return err
		}
		s.auth = auth
		return nil
	}
}

// WithCredentialsFromEnv loads CDP credentials from CDP_API_KEY_NAME,
// CDP_API_KEY_SECRET, and the optional CDP_WALLET_SECRET.
func WithCredentialsFromEnv() SignerOption {
	return func(s *Signer) error {
		keyID := os.Getenv("CDP_API_KEY_NAME")
		keySecret := os.Getenv("CDP_API_KEY_SECRET")
		if keyID == "" {
			return x402.NewConfigurationError("CDP_API_KEY_NAME environment variable not set")
		}
		if keySecret == "" {
			return x402.NewConfigurationError("CDP_API_KEY_SECRET environment variable not set")
		}

		auth, err := NewAuth(keyID, keySecret, os.Getenv("CDP_WALLET_SECRET"))
		if err != nil {
			return err
		}
		s.auth = auth
		return nil
	}
}

// WithClient substitutes a preconfigured CDP API client, bypassing the
// credential options. Useful for custom transports and tests.
func WithClient(client *Client) SignerOption {
	return func(s *Signer) error {
		s.client = client
		return nil
	}
}

// WithNetwork sets the blockchain network, as a V1 slug ("base",
// "solana-devnet") or CAIP-2 identifier ("eip155:8453"). The network
// must be one CDP wallets support.
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = network
		return nil
	}
}

// WithEIP3009Params overrides the EIP-712 domain name and version used
// for EVM signing. Only needed for tokens whose contracts use values the
// chain registry does not know; challenge extra fields still win.
func WithEIP3009Params(name, version string) SignerOption {
	return func(s *Signer) error {
		s.domainName = name
		s.domainVersion = version
		return nil
	}
}

// WithToken adds a payable token: contract address (EVM) or mint address
// (SVM), symbol, and decimals.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds a payable token with a selection priority.
// Lower priorities are preferred when a challenge offers a choice.
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

// WithPriority sets the signer priority for selection. Lower numbers are
// preferred.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall caps single payments, expressed as a base-10
// string in the token's atomic units.
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

// WithRPCEndpoint overrides the Solana RPC endpoint used to fetch recent
// blockhashes when building SVM payments.
func WithRPCEndpoint(url string) SignerOption {
	return func(s *Signer) error {
		s.rpcEndpoint = url
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

// CanSign implements x402.Signer. It accepts requirements whose network
// matches the configured one in either V1 or CAIP-2 spelling and whose
// asset is a configured token.
func (s *Signer) CanSign(requirements *x402.PaymentRequirement) bool {
	if !x402.NetworksEqual(requirements.Network, s.network) {
		return false
	}
	if requirements.Scheme != "exact" {
		return false
	}
	return s.token(requirements.Asset) != nil
}

// Sign implements x402.Signer, routing to the EVM typed data or SVM
// transaction signing endpoint.
func (s *Signer) Sign(requirements *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, x402.ErrNoValidSigner
	}

	amount := new(big.Int)
	if _, ok := amount.SetString(requirements.Amount, 10); !ok {
		return nil, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	switch s.networkType {
	case x402.NetworkTypeEVM:
		return s.signEVM(requirements, amount)
	case x402.NetworkTypeSVM:
		return s.signSVM(requirements, amount)
	default:
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidNetwork, s.network)
	}
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

// Address returns the CDP wallet address.
func (s *Signer) Address() string {
	return s.address
}

// AccountName returns the CDP account name the signer was bound to.
func (s *Signer) AccountName() string {
	return s.accountName
}

// token finds the configured token for a challenge asset, accepting
// plain addresses and CAIP-19 asset identifiers.
func (s *Signer) token(asset string) *x402.TokenConfig {
	address := x402.AssetAddress(asset)
	for i := range s.tokens {
		if strings.EqualFold(s.tokens[i].Address, address) {
			return &s.tokens[i]
		}
	}
	return nil
}
