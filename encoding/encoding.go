// Package encoding is the wire codec for x402 payment artifacts. It
// handles both protocol generations: V1 header values are always
// Base64(JSON), V2 header values are compact JSON with a Base64(JSON)
// fallback accepted on decode. The V1 wire field names differ from the
// canonical types in places; the private envelope types here own that
// mapping so the rest of the module only sees canonical structs.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/x402labs/x402-go"
)

// Wire artifact names used in DecodeError.
const (
	artifactPayment    = "payment"
	artifactRequired   = "payment-required"
	artifactSettlement = "settlement"
)

// requirementV1 is the V1 wire form of a payment requirement. The amount
// travels under maxAmountRequired and there are no extensions.
type requirementV1 struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	Nonce             string                 `json:"nonce,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
	OutputSchema      *x402.OutputSchema     `json:"outputSchema,omitempty"`
}

// paymentRequiredV1 is the V1 wire form of a 402 challenge.
type paymentRequiredV1 struct {
	X402Version int             `json:"x402Version"`
	Error       string          `json:"error,omitempty"`
	Accepts     []requirementV1 `json:"accepts"`
}

func requirementToV1(req x402.PaymentRequirement) requirementV1 {
	return requirementV1{
		Scheme:            req.Scheme,
		Network:           req.Network,
		MaxAmountRequired: req.Amount,
		Asset:             req.Asset,
		PayTo:             req.PayTo,
		MaxTimeoutSeconds: req.MaxTimeoutSeconds,
		Resource:          req.Resource,
		Description:       req.Description,
		MimeType:          req.MimeType,
		Nonce:             req.Nonce,
		Extra:             req.Extra,
		OutputSchema:      req.OutputSchema,
	}
}

func requirementFromV1(req requirementV1) x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            req.Scheme,
		Network:           req.Network,
		Amount:            req.MaxAmountRequired,
		Asset:             req.Asset,
		PayTo:             req.PayTo,
		MaxTimeoutSeconds: req.MaxTimeoutSeconds,
		Resource:          req.Resource,
		Description:       req.Description,
		MimeType:          req.MimeType,
		Nonce:             req.Nonce,
		Extra:             req.Extra,
		OutputSchema:      req.OutputSchema,
	}
}

// decodeBody recovers the raw JSON bytes of an artifact from a header
// value. A value starting with '{' is taken as plain JSON; anything else
// must be standard Base64 wrapping JSON. '{' is not in the Base64
// alphabet, so the dispatch is unambiguous.
func decodeBody(encoded, artifact string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, x402.NewDecodeError(artifact, err)
	}
	return decoded, nil
}

// versionProbe extracts the embedded protocol version, if any.
type versionProbe struct {
	X402Version int `json:"x402Version"`
}

// DetectVersion reports the protocol generation of an encoded payment or
// challenge artifact. The embedded x402Version field is authoritative;
// when it is absent or the artifact cannot be parsed at all, fallback is
// returned. It never fails: callers that need strictness decode instead.
func DetectVersion(encoded string, fallback x402.Version) x402.Version {
	data, err := decodeBody(encoded, artifactPayment)
	if err != nil {
		return fallback
	}
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil || probe.X402Version == 0 {
		return fallback
	}
	return x402.Version(probe.X402Version)
}

// EncodePayment encodes a signed payment for its generation's payment
// header: Base64(JSON) for V1, compact JSON for V2.
func EncodePayment(payment *x402.PaymentPayload) (string, error) {
	version := payment.Version()
	if !version.Valid() {
		return "", fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, payment.X402Version)
	}
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	if version == x402.V1 {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return string(data), nil
}

// DecodePayment decodes a payment header value. The embedded x402Version
// decides the generation; fallback applies when the field is absent.
// Malformed input yields a DecodeError, never a panic.
func DecodePayment(encoded string, fallback x402.Version) (*x402.PaymentPayload, error) {
	data, err := decodeBody(encoded, artifactPayment)
	if err != nil {
		return nil, err
	}

	var payment x402.PaymentPayload
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, x402.NewDecodeError(artifactPayment, err)
	}
	if payment.X402Version == 0 {
		payment.X402Version = int(fallback)
	}
	if payment.Payload == nil {
		return nil, x402.NewDecodeError(artifactPayment, fmt.Errorf("missing required field %q", "payload"))
	}
	return &payment, nil
}

// MarshalRequired renders a 402 challenge as its generation's wire JSON.
// The V1 wire form cannot carry the ResourceInfo envelope or extensions;
// those fields are dropped when marshaling a V1 challenge. Response bodies
// are plain JSON in both generations, so middleware uses this directly;
// EncodeRequired adds the V1 header transport on top.
func MarshalRequired(challenge *x402.PaymentRequired) ([]byte, error) {
	switch challenge.Version() {
	case x402.V1:
		wire := paymentRequiredV1{
			X402Version: challenge.X402Version,
			Error:       challenge.Error,
			Accepts:     make([]requirementV1, 0, len(challenge.Accepts)),
		}
		for _, req := range challenge.Accepts {
			wire.Accepts = append(wire.Accepts, requirementToV1(req))
		}
		data, err := json.Marshal(wire)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal challenge: %w", err)
		}
		return data, nil

	case x402.V2:
		data, err := json.Marshal(challenge)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal challenge: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, challenge.X402Version)
	}
}

// EncodeRequired encodes a 402 challenge for its generation's challenge
// header: Base64(JSON) for V1, compact JSON for V2.
func EncodeRequired(challenge *x402.PaymentRequired) (string, error) {
	data, err := MarshalRequired(challenge)
	if err != nil {
		return "", err
	}
	if challenge.Version() == x402.V1 {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return string(data), nil
}

// DecodeRequired decodes a challenge header value into the canonical
// form. V1 challenges are translated from their wire envelope; anything
// carrying an unknown version is read with V2 field names so that
// verification can reject it with a version mismatch rather than losing
// the artifact to a decode failure.
func DecodeRequired(encoded string, fallback x402.Version) (*x402.PaymentRequired, error) {
	data, err := decodeBody(encoded, artifactRequired)
	if err != nil {
		return nil, err
	}

	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, x402.NewDecodeError(artifactRequired, err)
	}
	version := x402.Version(probe.X402Version)
	if probe.X402Version == 0 {
		version = fallback
	}

	if version == x402.V1 {
		var wire paymentRequiredV1
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, x402.NewDecodeError(artifactRequired, err)
		}
		if wire.Accepts == nil {
			return nil, x402.NewDecodeError(artifactRequired, fmt.Errorf("missing required field %q", "accepts"))
		}
		challenge := x402.PaymentRequired{
			X402Version: int(x402.V1),
			Error:       wire.Error,
			Accepts:     make([]x402.PaymentRequirement, 0, len(wire.Accepts)),
		}
		for _, req := range wire.Accepts {
			challenge.Accepts = append(challenge.Accepts, requirementFromV1(req))
		}
		return &challenge, nil
	}

	var challenge x402.PaymentRequired
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, x402.NewDecodeError(artifactRequired, err)
	}
	if challenge.X402Version == 0 {
		challenge.X402Version = int(fallback)
	}
	if challenge.Accepts == nil {
		return nil, x402.NewDecodeError(artifactRequired, fmt.Errorf("missing required field %q", "accepts"))
	}
	return &challenge, nil
}

// EncodeSettlement encodes a settlement result for the response header of
// the given generation. Settlements carry no version field of their own,
// so the caller names the generation of the exchange.
func EncodeSettlement(settlement *x402.SettlementResponse, version x402.Version) (string, error) {
	if !version.Valid() {
		return "", fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, int(version))
	}
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	if version == x402.V1 {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return string(data), nil
}

// DecodeSettlement decodes a settlement header value. The wire shape is
// identical across generations, so only the transport differs and no
// fallback version is needed.
func DecodeSettlement(encoded string) (*x402.SettlementResponse, error) {
	data, err := decodeBody(encoded, artifactSettlement)
	if err != nil {
		return nil, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, x402.NewDecodeError(artifactSettlement, err)
	}
	if _, ok := keys["success"]; !ok {
		return nil, x402.NewDecodeError(artifactSettlement, fmt.Errorf("missing required field %q", "success"))
	}

	var settlement x402.SettlementResponse
	if err := json.Unmarshal(data, &settlement); err != nil {
		return nil, x402.NewDecodeError(artifactSettlement, err)
	}
	return &settlement, nil
}
