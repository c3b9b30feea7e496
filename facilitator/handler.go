package facilitator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/x402labs/x402-go"
)

// NewHandler exposes a facilitator over HTTP:
//
//	POST /verify    {x402Version, paymentPayload, paymentRequirements} → VerifyResponse
//	POST /settle    {x402Version, paymentPayload, paymentRequirements} → SettlementResponse
//	GET  /supported → SupportedResponse
//
// Failed verifications and settlements are 200s with the failure encoded
// in the body; only malformed requests (400) and configuration or
// internal errors (500) use error status codes. This is how a Local
// orchestrator is served to remote middlewares.
func NewHandler(f Interface) http.Handler {
	h := &handler{facilitator: f, logger: slog.Default()}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", h.verify)
	mux.HandleFunc("POST /settle", h.settle)
	mux.HandleFunc("GET /supported", h.supported)
	return mux
}

type handler struct {
	facilitator Interface
	logger      *slog.Logger
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed verify request: %v", err))
		return
	}
	if req.PaymentPayload.X402Version == 0 {
		req.PaymentPayload.X402Version = req.X402Version
	}

	resp, err := h.facilitator.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		h.logger.Warn("verify request failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed settle request: %v", err))
		return
	}
	if req.PaymentPayload.X402Version == 0 {
		req.PaymentPayload.X402Version = req.X402Version
	}

	resp, err := h.facilitator.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		h.logger.Warn("settle request failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) supported(w http.ResponseWriter, r *http.Request) {
	resp, err := h.facilitator.Supported(r.Context())
	if err != nil {
		h.logger.Warn("supported request failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps orchestrator errors onto wire status codes: client
// mistakes are 400s, server-side configuration problems are 500s.
func statusFor(err error) int {
	var vErr *x402.ValidationError
	var dErr *x402.DecodeError
	var cErr *x402.ConfigurationError
	switch {
	case errors.As(err, &vErr), errors.As(err, &dErr), errors.Is(err, x402.ErrInvalidPayment), errors.Is(err, x402.ErrUnsupportedScheme):
		return http.StatusBadRequest
	case errors.As(err, &cErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - the status line is already committed
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
