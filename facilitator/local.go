package facilitator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip3009"
	"github.com/x402labs/x402-go/nonce"
	"github.com/x402labs/x402-go/validation"
)

// ChainBackend performs the on-chain half of verification and settlement.
// Implementations talk to an RPC node; Local stays keyless and holds no
// connection state of its own.
type ChainBackend interface {
	// Balance returns the account's balance of the asset in atomic units.
	Balance(ctx context.Context, network, asset, account string) (*big.Int, error)

	// Submit broadcasts the payment's transferWithAuthorization call and
	// returns the transaction hash.
	Submit(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (string, error)
}

// Local is an in-process facilitator. It verifies EIP-3009 authorizations
// keylessly (signer recovery, nonce bookkeeping, validity window, amount)
// and settles through an optional ChainBackend.
type Local struct {
	tracker    nonce.Tracker
	backend    ChainBackend
	kinds      []x402.SupportedKind
	extensions []string
	logger     *slog.Logger
}

// LocalOption configures a Local facilitator.
type LocalOption func(*Local)

// WithBackend supplies the chain backend used for balance checks during
// verification and transaction submission during settlement. Without a
// backend, Verify skips the balance check and Settle fails.
func WithBackend(backend ChainBackend) LocalOption {
	return func(l *Local) { l.backend = backend }
}

// WithSupportedKinds overrides the payment kinds advertised by Supported.
func WithSupportedKinds(kinds ...x402.SupportedKind) LocalOption {
	return func(l *Local) { l.kinds = kinds }
}

// WithExtensions sets the extension keys advertised by Supported.
func WithExtensions(keys ...string) LocalOption {
	return func(l *Local) { l.extensions = keys }
}

// WithLogger sets the logger for settlement events.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal creates an in-process facilitator. A nil tracker gets an
// in-memory one, which is sufficient for a single instance.
func NewLocal(tracker nonce.Tracker, opts ...LocalOption) *Local {
	l := &Local{
		tracker: tracker,
		logger:  slog.Default(),
	}
	if l.tracker == nil {
		l.tracker = nonce.NewMemoryTracker()
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.kinds == nil {
		l.kinds = defaultKinds()
	}
	return l
}

// defaultKinds advertises the exact scheme on every registered EVM chain,
// once per protocol generation.
func defaultKinds() []x402.SupportedKind {
	chains := []x402.ChainConfig{
		x402.BaseMainnet, x402.PolygonMainnet, x402.AvalancheMainnet,
		x402.BaseSepolia, x402.PolygonAmoy, x402.AvalancheFuji,
	}
	kinds := make([]x402.SupportedKind, 0, 2*len(chains))
	for _, c := range chains {
		kinds = append(kinds,
			x402.SupportedKind{X402Version: 1, Scheme: "exact", Network: c.NetworkID},
			x402.SupportedKind{X402Version: 2, Scheme: "exact", Network: c.CAIP2},
		)
	}
	return kinds
}

// invalid builds a failed verification response.
func invalid(reason, message string) *x402.VerifyResponse {
	return &x402.VerifyResponse{IsValid: false, InvalidReason: reason, InvalidMessage: message}
}

// Verify implements Interface. Checks run in a fixed order and the first
// failure decides the reason: structure, version, signature recovery,
// nonce freshness, validity window, amount and recipient, then an
// optional on-chain balance read. Malformed payloads return an error
// (they are client mistakes, not failed payments); semantic failures
// return IsValid=false with the reason.
func (l *Local) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	if err := validation.ValidatePaymentPayload(payment); err != nil {
		var vErr *x402.ValidationError
		if errors.As(err, &vErr) && vErr.Field == "x402Version" {
			// Unknown protocol generations decode on purpose so they can
			// be rejected here instead of failing at the codec.
			return invalid(x402.ReasonVersionMismatch, vErr.Message), nil
		}
		return nil, err
	}
	if err := validation.ValidatePaymentRequirement(requirement); err != nil {
		return nil, err
	}

	// A payment offered against the wrong requirement is a pairing bug in
	// the caller, not a property of the payment.
	if payment.AcceptedScheme() != requirement.Scheme {
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedScheme, "payment scheme does not match requirement", x402.ErrUnsupportedScheme).
			WithDetails("paymentScheme", payment.AcceptedScheme()).
			WithDetails("requirementScheme", requirement.Scheme)
	}

	// Generation match before the network comparison: NetworksEqual folds
	// the slug and CAIP-2 spellings onto one chain, so without this a V1
	// payload would satisfy a V2 requirement.
	if required := x402.NetworkVersion(requirement.Network); payment.Version() != required {
		return invalid(x402.ReasonVersionMismatch,
			fmt.Sprintf("payment is generation %d, requirement is generation %d",
				payment.X402Version, int(required))), nil
	}

	if !x402.NetworksEqual(payment.AcceptedNetwork(), requirement.Network) {
		return invalid(x402.ReasonNetworkMismatch,
			fmt.Sprintf("payment is for network %s, requirement is on %s", payment.AcceptedNetwork(), requirement.Network)), nil
	}

	networkType, err := x402.ValidateNetwork(requirement.Network)
	if err != nil {
		return nil, err
	}
	if networkType != x402.NetworkTypeEVM {
		return nil, x402.NewConfigurationError(fmt.Sprintf("local verification supports EVM networks only, got %s", requirement.Network))
	}

	evmPayload, err := x402.ParseEVMPayload(payment.Payload)
	if err != nil {
		return nil, err
	}
	auth, err := eip3009.FromWire(evmPayload.Authorization)
	if err != nil {
		return nil, err
	}

	chainID, err := x402.GetChainID(requirement.Network)
	if err != nil {
		return nil, err
	}

	name, version, err := eip712Domain(requirement)
	if err != nil {
		return nil, err
	}

	asset := x402.AssetAddress(requirement.Asset)
	digest, err := eip3009.Digest(eip3009.TypedData(
		common.HexToAddress(asset), new(big.Int).SetUint64(chainID), auth, name, version))
	if err != nil {
		return nil, fmt.Errorf("failed to hash authorization: %w", err)
	}

	signer, err := eip3009.RecoverSigner(digest, evmPayload.Signature)
	if err != nil {
		return invalid(x402.ReasonSignatureInvalid, err.Error()), nil
	}
	if signer != auth.From {
		return invalid(x402.ReasonSignatureInvalid,
			fmt.Sprintf("signature recovers to %s, authorization names %s", signer.Hex(), auth.From.Hex())), nil
	}
	payer := auth.Wire().From

	key := nonce.NewKey(chainID, asset, evmPayload.Authorization.Nonce)
	used, err := l.tracker.IsUsed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("nonce lookup failed: %w", err)
	}
	if used {
		return invalid(x402.ReasonNonceReused, "authorization nonce already spent"), nil
	}

	now := time.Now().Unix()
	if auth.ValidAfter.Int64() > now {
		return invalid(x402.ReasonWindowExpired,
			fmt.Sprintf("authorization becomes valid at %d", auth.ValidAfter.Int64())), nil
	}
	if now >= auth.ValidBefore.Int64() {
		return invalid(x402.ReasonWindowExpired,
			fmt.Sprintf("authorization expired at %d", auth.ValidBefore.Int64())), nil
	}

	required, ok := new(big.Int).SetString(requirement.Amount, 10)
	if !ok {
		return nil, x402.NewConfigurationError(fmt.Sprintf("requirement amount is not an integer: %s", requirement.Amount))
	}
	if auth.Value.Cmp(required) < 0 {
		return invalid(x402.ReasonAmountInsufficient,
			fmt.Sprintf("authorization value %s below required %s", auth.Value, required)), nil
	}
	// A wrong recipient reports amount-insufficient: the reason set is
	// closed and the requirement's amount was authorized to the wrong
	// payee, so none of it counts. The message names both addresses.
	if !strings.EqualFold(evmPayload.Authorization.To, requirement.PayTo) {
		return invalid(x402.ReasonAmountInsufficient,
			fmt.Sprintf("authorization pays %s, requirement pays to %s", evmPayload.Authorization.To, requirement.PayTo)), nil
	}

	if l.backend != nil {
		balance, err := l.backend.Balance(ctx, requirement.Network, asset, payer)
		if err != nil {
			return nil, fmt.Errorf("balance check failed: %w", err)
		}
		if balance.Cmp(auth.Value) < 0 {
			return invalid(x402.ReasonAmountInsufficient,
				fmt.Sprintf("payer balance %s below authorization value %s", balance, auth.Value)), nil
		}
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle implements Interface. It re-verifies, atomically reserves the
// nonce for the authorization's remaining lifetime, then submits through
// the backend. Losing the reservation race reports duplicate-nonce
// without ever submitting; a failed submission releases the reservation
// so the authorization can be retried.
func (l *Local) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	verifyResp, err := l.Verify(ctx, payment, requirement)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		reason := verifyResp.InvalidReason
		if reason == x402.ReasonNonceReused {
			reason = x402.ReasonDuplicateNonce
		}
		return &x402.SettlementResponse{
			Success:      false,
			ErrorReason:  reason,
			ErrorMessage: verifyResp.InvalidMessage,
			Network:      requirement.Network,
		}, nil
	}

	if l.backend == nil {
		return nil, x402.NewConfigurationError("settlement requires a chain backend")
	}

	evmPayload, err := x402.ParseEVMPayload(payment.Payload)
	if err != nil {
		return nil, err
	}
	auth, err := eip3009.FromWire(evmPayload.Authorization)
	if err != nil {
		return nil, err
	}
	chainID, err := x402.GetChainID(requirement.Network)
	if err != nil {
		return nil, err
	}

	asset := x402.AssetAddress(requirement.Asset)
	key := nonce.NewKey(chainID, asset, evmPayload.Authorization.Nonce)

	won, err := l.tracker.Reserve(ctx, key, time.Unix(auth.ValidBefore.Int64(), 0))
	if err != nil {
		return nil, fmt.Errorf("nonce reservation failed: %w", err)
	}
	if !won {
		return &x402.SettlementResponse{
			Success:      false,
			ErrorReason:  x402.ReasonDuplicateNonce,
			ErrorMessage: "authorization nonce already spent",
			Network:      requirement.Network,
			Payer:        verifyResp.Payer,
		}, nil
	}

	txHash, err := l.backend.Submit(ctx, payment, requirement)
	if err != nil {
		if relErr := l.tracker.Release(ctx, key); relErr != nil {
			l.logger.Error("failed to release nonce after submission failure",
				"network", requirement.Network, "nonce", key.Nonce, "error", relErr)
		}
		return &x402.SettlementResponse{
			Success:      false,
			ErrorReason:  submitReason(err),
			ErrorMessage: err.Error(),
			Network:      requirement.Network,
			Payer:        verifyResp.Payer,
		}, nil
	}

	l.logger.Info("payment settled",
		"network", requirement.Network, "payer", verifyResp.Payer, "transaction", txHash)

	return &x402.SettlementResponse{
		Success:     true,
		Transaction: txHash,
		Network:     requirement.Network,
		Payer:       verifyResp.Payer,
	}, nil
}

// Supported implements Interface.
func (l *Local) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	return &x402.SupportedResponse{
		Kinds:      l.kinds,
		Extensions: l.extensions,
	}, nil
}

// eip712Domain resolves the token's EIP-712 domain parameters from the
// requirement's extra data, falling back to the registry entry for the
// network.
func eip712Domain(requirement x402.PaymentRequirement) (name, version string, err error) {
	if requirement.Extra != nil {
		name, _ = requirement.Extra["name"].(string)
		version, _ = requirement.Extra["version"].(string)
	}
	if name != "" && version != "" {
		return name, version, nil
	}

	if c, ok := x402.GetChainConfig(requirement.Network); ok && c.EIP3009Name != "" {
		if name == "" {
			name = c.EIP3009Name
		}
		if version == "" {
			version = c.EIP3009Version
		}
		return name, version, nil
	}

	return "", "", x402.NewConfigurationError(
		fmt.Sprintf("EIP-712 domain parameters unavailable for %s: set extra.name and extra.version on the requirement", requirement.Network))
}

// submitReason classifies a backend submission error. Transport-level
// failures are retryable and report rpc-unavailable; everything else is
// treated as an on-chain revert.
func submitReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, x402.ErrNetworkError) ||
		errors.Is(err, x402.ErrTimeout) ||
		errors.Is(err, x402.ErrFacilitatorUnavailable) {
		return x402.ReasonRPCUnavailable
	}
	return x402.ReasonOnChainRevert
}
