// Package siwx implements the sign-in-with-x extension: a server asks the
// payer to prove control of their wallet address by signing a structured
// sign-in message alongside the payment.
//
// The server declares {domain, resourceUri, network, statement, nonce,
// expirationSeconds} on its challenge. The client renders a deterministic
// plaintext message beginning "<domain> wants you to sign in", signs it
// with EIP-191 personal-sign, and attaches {payload, signature} framed as
// "siwx-v1-<base64url(JSON)>" to the payment's extensions map.
package siwx

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip3009"
	"github.com/x402labs/x402-go/extensions"
)

// Key is the well-known extension identifier.
const Key = "sign-in-with-x"

// framePrefix tags the wire artifact with its format version.
const framePrefix = "siwx-v1-"

// Declaration is the server's declared sign-in request.
type Declaration struct {
	// Domain is the authority requesting the sign-in.
	Domain string `json:"domain"`

	// ResourceURI is the resource the sign-in is scoped to.
	ResourceURI string `json:"resourceUri"`

	// Network names the chain whose ID is bound into the message.
	Network string `json:"network,omitempty"`

	// Statement is an optional human-readable line shown to the signer.
	Statement string `json:"statement,omitempty"`

	// Nonce is the server-issued replay token. When empty the client
	// generates one; servers that track nonces should issue their own.
	Nonce string `json:"nonce,omitempty"`

	// ExpirationSeconds bounds the sign-in's validity from issuance.
	ExpirationSeconds int `json:"expirationSeconds,omitempty"`
}

// Declare builds the challenge-side extensions entry for decl.
func Declare(decl Declaration) map[string]x402.Extension {
	info := map[string]interface{}{
		"domain":      decl.Domain,
		"resourceUri": decl.ResourceURI,
	}
	if decl.Network != "" {
		info["network"] = decl.Network
	}
	if decl.Statement != "" {
		info["statement"] = decl.Statement
	}
	if decl.Nonce != "" {
		info["nonce"] = decl.Nonce
	}
	if decl.ExpirationSeconds > 0 {
		info["expirationSeconds"] = decl.ExpirationSeconds
	}
	return extensions.Declare(Key, info, schema())
}

// schema returns the JSON Schema for the declared info.
func schema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"domain": map[string]interface{}{
				"type":        "string",
				"description": "The authority requesting the sign-in.",
			},
			"resourceUri": map[string]interface{}{
				"type":        "string",
				"description": "The resource the sign-in is scoped to.",
			},
			"network": map[string]interface{}{
				"type":        "string",
				"description": "The network whose chain ID is bound into the message.",
			},
			"statement": map[string]interface{}{
				"type":        "string",
				"description": "Optional human-readable statement shown to the signer.",
			},
			"nonce": map[string]interface{}{
				"type":        "string",
				"description": "Server-issued replay token.",
			},
			"expirationSeconds": map[string]interface{}{
				"type":        "integer",
				"description": "Validity period of the sign-in from issuance.",
			},
		},
		"required": []string{"domain", "resourceUri"},
	}
}

// Payload is the structured sign-in statement the wallet signs.
type Payload struct {
	Domain         string `json:"domain"`
	Address        string `json:"address"`
	ResourceURI    string `json:"resourceUri"`
	Nonce          string `json:"nonce"`
	IssuedAt       string `json:"issuedAt"`
	ExpirationTime string `json:"expirationTime,omitempty"`
	ChainID        uint64 `json:"chainId,omitempty"`
	Statement      string `json:"statement,omitempty"`
}

// Message renders the plaintext the wallet signs. The rendering is a pure
// function of the payload fields: same payload, same message, always.
func (p Payload) Message() string {
	var b strings.Builder
	b.WriteString(p.Domain)
	b.WriteString(" wants you to sign in with your wallet:\n")
	b.WriteString(p.Address)
	if p.Statement != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Statement)
	}
	b.WriteString("\n\nURI: ")
	b.WriteString(p.ResourceURI)
	if p.ChainID != 0 {
		b.WriteString("\nChain ID: ")
		b.WriteString(strconv.FormatUint(p.ChainID, 10))
	}
	b.WriteString("\nNonce: ")
	b.WriteString(p.Nonce)
	b.WriteString("\nIssued At: ")
	b.WriteString(p.IssuedAt)
	if p.ExpirationTime != "" {
		b.WriteString("\nExpiration Time: ")
		b.WriteString(p.ExpirationTime)
	}
	return b.String()
}

// artifact is the wire form framed into the extensions map.
type artifact struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
}

// Frame encodes a signed payload as the wire artifact.
func Frame(payload Payload, signature string) (string, error) {
	data, err := json.Marshal(artifact{Payload: payload, Signature: signature})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign-in artifact: %w", err)
	}
	return framePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Parse decodes a framed artifact into its payload and signature.
func Parse(framed string) (Payload, string, error) {
	encoded, ok := strings.CutPrefix(framed, framePrefix)
	if !ok {
		return Payload{}, "", fmt.Errorf("%w: missing %q prefix", x402.ErrInvalidExtension, framePrefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return Payload{}, "", fmt.Errorf("%w: %v", x402.ErrInvalidExtension, err)
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Payload{}, "", fmt.Errorf("%w: %v", x402.ErrInvalidExtension, err)
	}
	return a.Payload, a.Signature, nil
}

// Attach builds the payload-side extensions entry carrying a framed
// artifact.
func Attach(framed string) x402.Extension {
	return x402.Extension{Info: map[string]interface{}{"artifact": framed}}
}

// Artifact extracts the framed artifact from a payment's extensions map.
func Artifact(payment *x402.PaymentPayload) (string, bool) {
	ext, ok := payment.Extensions[Key]
	if !ok || ext.Info == nil {
		return "", false
	}
	framed, ok := ext.Info["artifact"].(string)
	return framed, ok && framed != ""
}

// SignFunc produces an EIP-191 personal-sign signature over message and
// returns the 65-byte signature.
type SignFunc func(message []byte) ([]byte, error)

// PrivateKeySigner returns a SignFunc backed by a raw secp256k1 key.
func PrivateKeySigner(key *ecdsa.PrivateKey) SignFunc {
	return func(message []byte) ([]byte, error) {
		return crypto.Sign(accounts.TextHash(message), key)
	}
}

// Hook answers sign-in-with-x declarations on outgoing payments.
type Hook struct {
	address  string
	sign     SignFunc
	priority int
	now      func() time.Time
}

// NewHook creates a client hook that signs sign-in messages as address.
func NewHook(address string, sign SignFunc) *Hook {
	return &Hook{
		address:  address,
		sign:     sign,
		priority: 100,
		now:      time.Now,
	}
}

// Key implements extensions.Hook.
func (h *Hook) Key() string { return Key }

// Priority implements extensions.Hook. Sign-in runs before lower-priority
// hooks so they can read the signed artifact.
func (h *Hook) Priority() int { return h.priority }

// Apply implements extensions.Hook: it reads the server's declaration,
// builds and signs the message, and replaces the declaration with the
// framed artifact.
func (h *Hook) Apply(ctx context.Context, payment *x402.PaymentPayload) error {
	ext := payment.Extensions[Key]
	decl, err := declarationFromInfo(ext.Info)
	if err != nil {
		return err
	}
	if decl.Domain == "" {
		return fmt.Errorf("%w: declaration missing domain", x402.ErrInvalidExtension)
	}

	now := h.now().UTC()
	payload := Payload{
		Domain:      decl.Domain,
		Address:     h.address,
		ResourceURI: decl.ResourceURI,
		Nonce:       decl.Nonce,
		IssuedAt:    now.Format(time.RFC3339),
		Statement:   decl.Statement,
	}
	if payload.Nonce == "" {
		nonce, err := randomNonce()
		if err != nil {
			return err
		}
		payload.Nonce = nonce
	}
	if decl.ExpirationSeconds > 0 {
		payload.ExpirationTime = now.Add(time.Duration(decl.ExpirationSeconds) * time.Second).Format(time.RFC3339)
	}
	if decl.Network != "" {
		if chainID, err := x402.GetChainID(decl.Network); err == nil {
			payload.ChainID = chainID
		}
	}

	signature, err := h.sign([]byte(payload.Message()))
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	framed, err := Frame(payload, hexutil.Encode(signature))
	if err != nil {
		return err
	}
	payment.Extensions[Key] = Attach(framed)
	return nil
}

// declarationFromInfo converts the generic info map of a declaration into
// its typed form.
func declarationFromInfo(info map[string]interface{}) (Declaration, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return Declaration{}, fmt.Errorf("%w: %v", x402.ErrInvalidExtension, err)
	}
	var decl Declaration
	if err := json.Unmarshal(data, &decl); err != nil {
		return Declaration{}, fmt.Errorf("%w: %v", x402.ErrInvalidExtension, err)
	}
	return decl, nil
}

// randomNonce generates a 32-character hex replay token.
func randomNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Validator checks framed sign-in artifacts attached to incoming payments.
// The zero value validates structure and signature only; the optional
// fields add the domain pin, max-age and nonce-replay checks.
type Validator struct {
	// Domain, when set, must equal the artifact's domain exactly.
	Domain string

	// MaxAge, when positive, bounds how old the artifact's issuedAt may be.
	MaxAge time.Duration

	// NonceUsed, when set, reports whether a nonce has been seen before.
	// Returning true rejects the artifact.
	NonceUsed func(nonce string) bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate checks a framed artifact against the requested resource and
// returns the recovered signer address. The checks run in a fixed order:
// domain, address shape, resource binding, expiry, issuance age, nonce
// replay, signature recovery.
func (v *Validator) Validate(framed, resourceURI string) (string, error) {
	payload, signature, err := Parse(framed)
	if err != nil {
		return "", err
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	if payload.Domain == "" {
		return "", x402.NewValidationError("siwx.domain", "missing")
	}
	if v.Domain != "" && payload.Domain != v.Domain {
		return "", x402.NewValidationError("siwx.domain", fmt.Sprintf("got %q, want %q", payload.Domain, v.Domain))
	}
	if !common.IsHexAddress(payload.Address) {
		return "", x402.NewValidationError("siwx.address", "not a valid address")
	}
	if resourceURI != "" && payload.ResourceURI != resourceURI {
		return "", x402.NewValidationError("siwx.resourceUri", "does not match the requested resource")
	}
	if payload.ExpirationTime != "" {
		expiry, err := time.Parse(time.RFC3339, payload.ExpirationTime)
		if err != nil {
			return "", x402.NewValidationError("siwx.expirationTime", "not a valid RFC 3339 timestamp")
		}
		if expiry.Before(now()) {
			return "", x402.NewValidationError("siwx.expirationTime", "sign-in expired")
		}
	}
	if v.MaxAge > 0 {
		issued, err := time.Parse(time.RFC3339, payload.IssuedAt)
		if err != nil {
			return "", x402.NewValidationError("siwx.issuedAt", "not a valid RFC 3339 timestamp")
		}
		if now().Sub(issued) > v.MaxAge {
			return "", x402.NewValidationError("siwx.issuedAt", "sign-in too old")
		}
	}
	if v.NonceUsed != nil && v.NonceUsed(payload.Nonce) {
		return "", x402.NewValidationError("siwx.nonce", "nonce already used")
	}

	recovered, err := eip3009.RecoverSigner(accounts.TextHash([]byte(payload.Message())), signature)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(recovered.Hex(), payload.Address) {
		return "", fmt.Errorf("%w: recovered signer %s does not match %s", x402.ErrInvalidSignature, recovered.Hex(), payload.Address)
	}
	return recovered.Hex(), nil
}
