// Package eip3009 implements EIP-3009 transferWithAuthorization: typed
// authorization construction, EIP-712 hashing, signing and signer
// recovery. It holds no keys and no state; signers and facilitators both
// build on it.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402labs/x402-go"
)

// clockDrift widens the validity window backwards so an authorization
// built on a fast client clock is not rejected by the verifier.
const clockDrift = 10 * time.Second

// Authorization holds the typed parameters of a single
// transferWithAuthorization call.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// New creates an authorization valid from now (minus clock drift) until
// now plus timeoutSeconds, with a fresh random nonce.
func New(from, to common.Address, value *big.Int, timeoutSeconds int) (*Authorization, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now.Add(-clockDrift).Unix()),
		ValidBefore: big.NewInt(now.Unix() + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// GenerateNonce returns a cryptographically secure 32-byte random nonce.
func GenerateNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}

// FromWire converts the wire form of an authorization into its typed
// form, validating every field. Failures are ValidationErrors naming the
// offending field so verify responses can surface them verbatim.
func FromWire(wire x402.EVMAuthorization) (*Authorization, error) {
	if !common.IsHexAddress(wire.From) {
		return nil, x402.NewValidationError("authorization.from", "must be a hex address")
	}
	if !common.IsHexAddress(wire.To) {
		return nil, x402.NewValidationError("authorization.to", "must be a hex address")
	}

	value, ok := new(big.Int).SetString(wire.Value, 10)
	if !ok {
		return nil, x402.NewValidationError("authorization.value", "must be a base 10 integer")
	}
	if value.Sign() < 0 {
		return nil, x402.NewValidationError("authorization.value", "must be non-negative")
	}

	validAfter, ok := new(big.Int).SetString(wire.ValidAfter, 10)
	if !ok {
		return nil, x402.NewValidationError("authorization.validAfter", "must be a unix timestamp")
	}
	validBefore, ok := new(big.Int).SetString(wire.ValidBefore, 10)
	if !ok {
		return nil, x402.NewValidationError("authorization.validBefore", "must be a unix timestamp")
	}
	if validAfter.Cmp(validBefore) >= 0 {
		return nil, x402.NewValidationError("authorization.validBefore", "must be after validAfter")
	}

	nonce, err := hexutil.Decode(wire.Nonce)
	if err != nil || len(nonce) != common.HashLength {
		return nil, x402.NewValidationError("authorization.nonce", "must be a 32-byte hex string")
	}

	return &Authorization{
		From:        common.HexToAddress(wire.From),
		To:          common.HexToAddress(wire.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       common.BytesToHash(nonce),
	}, nil
}

// Wire converts the authorization back into its wire form. Addresses are
// lower-cased, matching how they are fed into the EIP-712 hash.
func (a *Authorization) Wire() x402.EVMAuthorization {
	return x402.EVMAuthorization{
		From:        strings.ToLower(a.From.Hex()),
		To:          strings.ToLower(a.To.Hex()),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       a.Nonce.Hex(),
	}
}

// Validate checks structural invariants that hold independent of clock
// time: a non-negative value and an ordered validity window.
func (a *Authorization) Validate() error {
	if a.Value == nil || a.Value.Sign() < 0 {
		return x402.NewValidationError("authorization.value", "must be non-negative")
	}
	if a.ValidAfter == nil || a.ValidBefore == nil {
		return x402.NewValidationError("authorization.validAfter", "validity window is required")
	}
	if a.ValidAfter.Cmp(a.ValidBefore) >= 0 {
		return x402.NewValidationError("authorization.validBefore", "must be after validAfter")
	}
	return nil
}

// TypedData builds the EIP-712 typed data for the authorization against a
// token contract. The name and version parameters come from the token's
// EIP-712 domain, carried in the payment requirement's extra data.
// Addresses are lower-cased before hashing.
func TypedData(tokenAddress common.Address, chainID *big.Int, a *Authorization, name, version string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: strings.ToLower(tokenAddress.Hex()),
		},
		Message: apitypes.TypedDataMessage{
			"from":        strings.ToLower(a.From.Hex()),
			"to":          strings.ToLower(a.To.Hex()),
			"value":       (*math.HexOrDecimal256)(a.Value),
			"validAfter":  (*math.HexOrDecimal256)(a.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(a.ValidBefore),
			"nonce":       a.Nonce.Hex(),
		},
	}
}

// Digest computes the EIP-712 signing hash:
// keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// Sign signs the authorization with the given key and returns the
// 65-byte signature as a 0x-prefixed hex string with v in {27, 28}.
func Sign(privateKey *ecdsa.PrivateKey, tokenAddress common.Address, chainID *big.Int, a *Authorization, name, version string) (string, error) {
	digest, err := Digest(TypedData(tokenAddress, chainID, a, name, version))
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization", err)
	}

	// crypto.Sign yields a recovery id in {0, 1}; contracts expect 27/28.
	signature[64] += 27

	return hexutil.Encode(signature), nil
}
