package x402

import (
	"encoding/json"
	"math/big"
)

type InputSchemaType string

const (
	InputSchemaTypeHTTP InputSchemaType = "http"
)

type InputSchemaMethod string

const (
	InputSchemaMethodGET  InputSchemaMethod = "GET"
	InputSchemaMethodPOST InputSchemaMethod = "POST"
)

type InputSchemaBodyType string

const (
	InputSchemaBodyTypeJSON              InputSchemaBodyType = "json"
	InputSchemaBodyTypeFormData          InputSchemaBodyType = "form-data"
	InputSchemaBodyTypeMultipartFormData InputSchemaBodyType = "multipart-form-data"
	InputSchemaBodyTypeText              InputSchemaBodyType = "text"
	InputSchemaBodyTypeBinary            InputSchemaBodyType = "binary"
)

// FieldDef defines the schema for a single field in the request or response. (https://www.x402scan.com)
type FieldDef struct {
	Type        string              `json:"type,omitempty"`
	Required    bool                `json:"required,omitempty"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Properties  map[string]FieldDef `json:"properties,omitempty"`
}

// InputSchema defines the expected structure of the client request. (https://www.x402scan.com)
type InputSchema struct {
	Type         InputSchemaType     `json:"type"`
	Method       InputSchemaMethod   `json:"method"`
	BodyType     InputSchemaBodyType `json:"bodyType,omitempty"`
	QueryParams  map[string]FieldDef `json:"queryParams,omitempty"`
	BodyFields   map[string]FieldDef `json:"bodyFields,omitempty"`
	HeaderFields map[string]FieldDef `json:"headerFields,omitempty"`
}

// OutputSchema defines the expected structure of the server response. (https://www.x402scan.com)
type OutputSchema struct {
	Input  InputSchema         `json:"input,omitempty"`
	Output map[string]FieldDef `json:"output,omitempty"`
}

// ResourceInfo describes the protected resource (V2 envelopes).
type ResourceInfo struct {
	// URL is the URL of the protected resource.
	URL string `json:"url"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`
}

// Extension represents a protocol extension attached to a challenge or
// payload under a well-known key.
type Extension struct {
	// Info contains the extension data.
	Info map[string]interface{} `json:"info"`

	// Schema contains the JSON schema describing Info.
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// PaymentRequirement represents a single payment option a server will
// accept. One canonical type covers both protocol generations: V1 carries
// a free-form network slug, a bare contract address and the amount under
// the wire key maxAmountRequired; V2 carries CAIP-2 networks, optionally
// CAIP-19 assets and the amount under the wire key amount. The JSON tags
// here are the V2 wire form; the encoding package owns the V1 mapping.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network: a slug like "base" in V1, a
	// CAIP-2 identifier like "eip155:8453" in V2.
	Network string `json:"network"`

	// Amount is the payment amount in atomic units (e.g., wei, lamports).
	Amount string `json:"amount"`

	// Asset is the token contract address (EVM), mint address (Solana) or
	// a CAIP-19 identifier in V2.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Resource is the URL of the protected resource (requirement-level in
	// V1; V2 challenges carry a ResourceInfo envelope instead).
	Resource string `json:"resource,omitempty"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// Nonce is an optional server-issued nonce (V1 only).
	Nonce string `json:"nonce,omitempty"`

	// Extra contains scheme-specific additional data, such as the EIP-712
	// domain name and version of the token contract.
	Extra map[string]interface{} `json:"extra,omitempty"`

	// OutputSchema defines the expected structure of the server response. (https://www.x402scan.com/)
	OutputSchema *OutputSchema `json:"outputSchema,omitempty"`

	// Extensions contains protocol extensions (V2 only).
	Extensions map[string]Extension `json:"extensions,omitempty"`
}

// PaymentRequired is the challenge envelope carried by a 402 response.
type PaymentRequired struct {
	// X402Version is the protocol version of this challenge.
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Resource describes the protected resource (V2 only).
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`

	// Extensions contains protocol extensions (V2 only).
	Extensions map[string]Extension `json:"extensions,omitempty"`
}

// Version returns the protocol generation of the challenge.
func (p *PaymentRequired) Version() Version {
	return Version(p.X402Version)
}

// PaymentPayload represents a signed payment sent by the payer. V1 payloads
// carry flat Scheme/Network fields; V2 payloads echo the accepted
// requirement instead.
type PaymentPayload struct {
	// X402Version is the protocol version of this payload.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (V1).
	Scheme string `json:"scheme,omitempty"`

	// Network is the blockchain network identifier (V1).
	Network string `json:"network,omitempty"`

	// Resource optionally describes the resource being paid for (V2).
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepted echoes the payment requirement this payload satisfies (V2).
	Accepted *PaymentRequirement `json:"accepted,omitempty"`

	// Payload contains the blockchain-specific signed payment data.
	// For EVM: EVMPayload with signature and authorization
	// For Solana: SVMPayload with partially signed transaction
	Payload interface{} `json:"payload"`

	// Extensions contains protocol extensions (V2 only).
	Extensions map[string]Extension `json:"extensions,omitempty"`
}

// Version returns the protocol generation of the payload.
func (p *PaymentPayload) Version() Version {
	return Version(p.X402Version)
}

// AcceptedScheme returns the scheme the payload claims to satisfy,
// independent of generation.
func (p *PaymentPayload) AcceptedScheme() string {
	if p.Accepted != nil {
		return p.Accepted.Scheme
	}
	return p.Scheme
}

// AcceptedNetwork returns the network the payload claims to pay on,
// independent of generation.
func (p *PaymentPayload) AcceptedNetwork() string {
	if p.Accepted != nil {
		return p.Accepted.Network
	}
	return p.Network
}

// TokenConfig represents configuration for a supported token.
type TokenConfig struct {
	// Address is the token contract address (EVM) or mint address (Solana).
	Address string

	// Symbol is the token symbol (e.g., "USDC", "SOL").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int

	// Priority is the token's priority level within the signer.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	// Default is 0 if not set.
	Priority int

	// Name is an optional human-readable token name.
	Name string
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units (wei).
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SVMPayload represents a Solana payment with a partially signed transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded partially signed Solana transaction.
	// The client signs with their private key, and the facilitator adds the fee payer signature.
	Transaction string `json:"transaction"`
}

// ParseEVMPayload extracts the EVM scheme payload from a PaymentPayload's
// Payload field, which holds a typed struct when built locally and a
// generic map when decoded from the wire.
func ParseEVMPayload(payload interface{}) (*EVMPayload, error) {
	switch p := payload.(type) {
	case EVMPayload:
		return &p, nil
	case *EVMPayload:
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, ErrInvalidPayment
		}
		var evm EVMPayload
		if err := json.Unmarshal(data, &evm); err != nil {
			return nil, ErrInvalidPayment
		}
		return &evm, nil
	}
}

// ParseSVMPayload extracts the Solana scheme payload from a
// PaymentPayload's Payload field.
func ParseSVMPayload(payload interface{}) (*SVMPayload, error) {
	switch p := payload.(type) {
	case SVMPayload:
		return &p, nil
	case *SVMPayload:
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, ErrInvalidPayment
		}
		var svm SVMPayload
		if err := json.Unmarshal(data, &svm); err != nil {
			return nil, ErrInvalidPayment
		}
		return &svm, nil
	}
}

// VerifyResponse is the result of payment verification.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason provides a short error code if the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// InvalidMessage provides a human-readable error message if the payment is invalid.
	InvalidMessage string `json:"invalidMessage,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SettlementResponse represents the result of payment settlement.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides a short error code if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// ErrorMessage provides a human-readable error message if the payment failed.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by a facilitator.
type SupportedResponse struct {
	// Kinds lists the payment types supported by the facilitator.
	Kinds []SupportedKind `json:"kinds"`

	// Extensions lists the extension identifiers the facilitator recognizes.
	Extensions []string `json:"extensions,omitempty"`

	// Signers maps network patterns to facilitator signer addresses.
	Signers map[string][]string `json:"signers,omitempty"`
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
// Returns ErrInvalidAmount if the amount is negative, fractional beyond the
// token's precision, or decimals is negative.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}

	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}
