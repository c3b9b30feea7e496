package eip3009

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/x402-go"
)

// Signature is a secp256k1 signature split into the r, s and v components
// that transferWithAuthorization takes on-chain.
type Signature struct {
	R common.Hash
	S common.Hash
	V byte
}

// ParseSignature splits a 0x-prefixed 65-byte hex signature into its
// components. V is kept exactly as it appears on the wire; use
// Normalized to map it onto the 27/28 form.
func ParseSignature(signature string) (Signature, error) {
	raw, err := hexutil.Decode(signature)
	if err != nil {
		return Signature{}, x402.NewValidationError("signature", "must be a 0x-prefixed hex string")
	}
	if len(raw) != crypto.SignatureLength {
		return Signature{}, x402.NewValidationError("signature", fmt.Sprintf("must be %d bytes, got %d", crypto.SignatureLength, len(raw)))
	}
	return Signature{
		R: common.BytesToHash(raw[:32]),
		S: common.BytesToHash(raw[32:64]),
		V: raw[64],
	}, nil
}

// Bytes reassembles the signature into its 65-byte wire form, the exact
// inverse of ParseSignature.
func (sig Signature) Bytes() []byte {
	out := make([]byte, crypto.SignatureLength)
	copy(out[:32], sig.R[:])
	copy(out[32:64], sig.S[:])
	out[64] = sig.V
	return out
}

// Hex returns the signature as a 0x-prefixed hex string.
func (sig Signature) Hex() string {
	return hexutil.Encode(sig.Bytes())
}

// Normalized returns a copy of the signature with V mapped onto 27/28.
func (sig Signature) Normalized() Signature {
	sig.V = NormalizeV(uint64(sig.V))
	return sig
}

// NormalizeV maps any of the recovery id encodings found in the wild onto
// the 27/28 form EIP-3009 contracts expect. Raw recovery ids (0/1) are
// shifted up, EIP-155 values (chainId*2 + 35 + id) are folded back, and
// values already in 27/28 pass through unchanged. Anything else is
// returned as is and rejected later during recovery.
func NormalizeV(v uint64) byte {
	switch {
	case v == 27 || v == 28:
		return byte(v)
	case v == 0 || v == 1:
		return byte(v + 27)
	case v >= 35:
		return byte(27 + (v-35)%2)
	default:
		return byte(v)
	}
}

// RecoverSigner recovers the address that produced signature over digest.
// It accepts any recovery id encoding handled by NormalizeV.
func RecoverSigner(digest []byte, signature string) (common.Address, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	raw := sig.Normalized().Bytes()
	if raw[64] != 27 && raw[64] != 28 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d out of range", x402.ErrInvalidSignature, sig.V)
	}

	// crypto.SigToPub wants the raw recovery id, not the 27/28 form.
	raw[64] -= 27

	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
