// Package helpers provides shared plumbing for the x402 HTTP middlewares.
// The stdlib, chi, gin and PocketBase middlewares all route through these
// functions so challenge, payment and settlement handling stays identical
// across frameworks and protocol generations.
package helpers

import (
	"errors"
	"net/http"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
)

// PaymentHeader returns the first payment header present on the request
// and the generation it belongs to. The V2 header is consulted before the
// V1 header. ok is false when the request carries no payment at all.
func PaymentHeader(r *http.Request) (value string, version x402.Version, ok bool) {
	if v := r.Header.Get(x402.HeaderPaymentV2); v != "" {
		return v, x402.V2, true
	}
	if v := r.Header.Get(x402.HeaderPaymentV1); v != "" {
		return v, x402.V1, true
	}
	return "", 0, false
}

// ParsePaymentHeader decodes the request's payment header into a payload.
// The header generation seeds the version fallback for payloads that omit
// x402Version.
//
// Returns x402.ErrPaymentRequired when neither payment header is present
// and a *x402.DecodeError when one is present but malformed.
func ParsePaymentHeader(r *http.Request) (*x402.PaymentPayload, error) {
	value, version, ok := PaymentHeader(r)
	if !ok {
		return nil, x402.ErrPaymentRequired
	}
	return encoding.DecodePayment(value, version)
}

// FindMatchingRequirement pairs an incoming payment with one of the
// advertised requirement options by scheme and network.
//
// Returns x402.ErrUnsupportedScheme wrapped in a PaymentError if nothing
// matches.
func FindMatchingRequirement(payment x402.PaymentPayload, requirements []x402.PaymentRequirement) (x402.PaymentRequirement, error) {
	req, err := x402.FindMatchingRequirement(payment, requirements)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}
	return *req, nil
}

// SendPaymentRequired writes a 402 response carrying the challenge twice:
// in the generation's challenge header and as the JSON body, so both
// header-reading and body-reading clients can recover it. The challenge's
// own X402Version decides the header name and wire form.
func SendPaymentRequired(w http.ResponseWriter, challenge *x402.PaymentRequired) error {
	header, err := encoding.EncodeRequired(challenge)
	if err != nil {
		return err
	}
	body, err := encoding.MarshalRequired(challenge)
	if err != nil {
		return err
	}

	w.Header().Set(challenge.Version().RequiredHeader(), header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Body write failures after the 402 status are the client's problem;
	// the header copy of the challenge already went out.
	_, _ = w.Write(body)
	return nil
}

// AddPaymentResponseHeader attaches the encoded settlement result to the
// response under the settlement header of the given generation.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettlementResponse, version x402.Version) error {
	encoded, err := encoding.EncodeSettlement(settlement, version)
	if err != nil {
		return err
	}
	w.Header().Set(version.ResponseHeader(), encoded)
	return nil
}

// BuildResourceURL reconstructs the absolute URL of the requested resource
// for use in challenges.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

// VerifyErrorStatus maps a verification transport error onto its response
// status and message: client mistakes are 400, broken configuration 500,
// an unreachable facilitator 503.
func VerifyErrorStatus(err error) (int, string) {
	var decodeErr *x402.DecodeError
	var validationErr *x402.ValidationError
	var configErr *x402.ConfigurationError
	switch {
	case errors.As(err, &decodeErr), errors.As(err, &validationErr),
		errors.Is(err, x402.ErrInvalidPayment), errors.Is(err, x402.ErrUnsupportedScheme):
		return http.StatusBadRequest, "Invalid payment"
	case errors.As(err, &configErr):
		return http.StatusInternalServerError, "Payment verification unavailable"
	default:
		return http.StatusServiceUnavailable, "Payment verification failed"
	}
}

// SettlementFailureStatus maps an unsuccessful settlement onto its response
// status: 400 when the authorization's nonce was already spent and the
// client must sign a fresh one, 502 otherwise.
func SettlementFailureStatus(settlement *x402.SettlementResponse) int {
	if settlement.ErrorReason == x402.ReasonDuplicateNonce {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
