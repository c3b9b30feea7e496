// Package x402 implements the x402 HTTP micropayment protocol.
//
// x402 is a challenge-response protocol built on HTTP status 402: a server
// advertises payment requirements, a client attaches a signed EIP-3009
// transfer authorization, and a facilitator verifies and settles the
// transfer on chain. The package covers both protocol generations:
//   - V1: legacy network slugs ("base"), Base64(JSON) headers
//     (X-PAYMENT, X-PAYMENT-REQUIRED, X-PAYMENT-RESPONSE)
//   - V2: CAIP-2 network identifiers ("eip155:8453"), plain JSON headers
//     (PAYMENT-SIGNATURE, PAYMENT-REQUIRED, PAYMENT-RESPONSE) with a
//     Base64(JSON) fallback, ResourceInfo envelopes and extensions
package x402

import (
	"fmt"
	"strings"
)

// Version identifies an x402 protocol generation. It is a closed set:
// every codec, verify and settle boundary switches exhaustively over the
// declared constants and rejects anything else.
type Version int

const (
	// V1 is the legacy protocol generation.
	V1 Version = 1

	// V2 is the current protocol generation.
	V2 Version = 2
)

// V1 wire header names. All values are Base64(JSON).
const (
	HeaderPaymentV1         = "X-PAYMENT"
	HeaderPaymentRequiredV1 = "X-PAYMENT-REQUIRED"
	HeaderPaymentRespV1     = "X-PAYMENT-RESPONSE"
)

// V2 wire header names. Values are compact JSON with a Base64(JSON)
// fallback accepted on decode.
const (
	HeaderPaymentV2         = "PAYMENT-SIGNATURE"
	HeaderPaymentRequiredV2 = "PAYMENT-REQUIRED"
	HeaderPaymentRespV2     = "PAYMENT-RESPONSE"
)

// Valid reports whether v is a declared protocol generation.
func (v Version) Valid() bool {
	return v == V1 || v == V2
}

// String implements fmt.Stringer.
func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// PaymentHeader returns the request header carrying the payment payload
// for this generation.
func (v Version) PaymentHeader() string {
	if v == V2 {
		return HeaderPaymentV2
	}
	return HeaderPaymentV1
}

// RequiredHeader returns the response header carrying the 402 challenge
// for this generation.
func (v Version) RequiredHeader() string {
	if v == V2 {
		return HeaderPaymentRequiredV2
	}
	return HeaderPaymentRequiredV1
}

// ResponseHeader returns the response header carrying the settlement
// result for this generation.
func (v Version) ResponseHeader() string {
	if v == V2 {
		return HeaderPaymentRespV2
	}
	return HeaderPaymentRespV1
}

// VersionForHeader maps a wire header name to the protocol generation it
// belongs to. Matching is case insensitive since net/http canonicalizes
// header keys. The second result is false for unknown header names.
func VersionForHeader(name string) (Version, bool) {
	for _, h := range []string{HeaderPaymentV1, HeaderPaymentRequiredV1, HeaderPaymentRespV1} {
		if strings.EqualFold(name, h) {
			return V1, true
		}
	}
	for _, h := range []string{HeaderPaymentV2, HeaderPaymentRequiredV2, HeaderPaymentRespV2} {
		if strings.EqualFold(name, h) {
			return V2, true
		}
	}
	return 0, false
}

// ParseVersion converts a wire x402Version integer into a Version.
func ParseVersion(n int) (Version, error) {
	v := Version(n)
	if !v.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, n)
	}
	return v, nil
}

// ConformPayment rewrites a signed payload's envelope for the challenge's
// generation. V2 challenges get the accepted-requirement echo and the
// resource envelope; V1 challenges get the flat scheme and network fields.
// The chain payload itself is never touched. Transports call this after
// signing so that signers stay generation-agnostic.
func ConformPayment(challenge *PaymentRequired, payment *PaymentPayload) {
	version := challenge.Version()
	if !version.Valid() {
		version = V1
	}

	if version == V2 {
		if payment.Accepted == nil {
			scheme, network := payment.AcceptedScheme(), payment.AcceptedNetwork()
			for i := range challenge.Accepts {
				req := challenge.Accepts[i]
				if req.Scheme == scheme && NetworksEqual(req.Network, network) {
					payment.Accepted = &req
					break
				}
			}
		}
		payment.X402Version = int(V2)
		if payment.Accepted != nil {
			payment.Scheme = ""
			payment.Network = ""
		}
		if payment.Resource == nil {
			payment.Resource = challenge.Resource
		}
		return
	}

	payment.X402Version = int(V1)
	if payment.Accepted != nil {
		payment.Scheme = payment.Accepted.Scheme
		payment.Network = payment.Accepted.Network
		payment.Accepted = nil
	}
	// The V1 wire form has nowhere to put these.
	payment.Resource = nil
	payment.Extensions = nil
}
