package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
	"github.com/x402labs/x402-go/facilitator"
	x402http "github.com/x402labs/x402-go/http"
	"github.com/x402labs/x402-go/mcp"
)

// X402Handler intercepts tools/call JSON-RPC requests on their way to an
// MCP HTTP handler and runs them through the x402 payment state machine:
// no payment yields a 402 challenge in error.data, an invalid payment a
// fresh challenge, and a verified payment runs the tool and settles
// afterwards, with the receipt injected into result._meta. Tool errors
// skip settlement.
type X402Handler struct {
	next     http.Handler
	config   *Config
	version  x402.Version
	timeouts x402.TimeoutConfig
	logger   *slog.Logger
	primary  facilitator.Interface
	fallback facilitator.Interface
}

// NewX402Handler wraps an MCP HTTP handler with payment gating. A
// facilitator comes from config.Facilitator when set, otherwise from
// config.FacilitatorURL; with neither, calls to protected tools fail
// with a configuration error instead of panicking at startup.
func NewX402Handler(next http.Handler, config *Config) *X402Handler {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := config.Timeouts
	if timeouts == (x402.TimeoutConfig{}) {
		timeouts = x402.DefaultTimeouts
	}

	h := &X402Handler{
		next:     next,
		config:   config,
		version:  config.challengeVersion(),
		timeouts: timeouts,
		logger:   logger,
	}

	switch {
	case config.Facilitator != nil:
		h.primary = config.Facilitator
	case config.FacilitatorURL != "":
		h.primary = &x402http.FacilitatorClient{
			BaseURL:               config.FacilitatorURL,
			Client:                &http.Client{},
			Timeouts:              timeouts,
			Authorization:         config.FacilitatorAuthorization,
			AuthorizationProvider: config.FacilitatorAuthorizationProvider,
		}
	}
	if config.FallbackFacilitatorURL != "" {
		h.fallback = &x402http.FacilitatorClient{
			BaseURL:  config.FallbackFacilitatorURL,
			Client:   &http.Client{},
			Timeouts: timeouts,
		}
	}

	return h
}

// jsonrpcEnvelope is the slice of a JSON-RPC request the gate needs.
type jsonrpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// ServeHTTP implements http.Handler.
func (h *X402Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only POST carries JSON-RPC calls; GET is the SSE stream.
	if r.Method != http.MethodPost {
		h.next.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, nil, -32700, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req jsonrpcEnvelope
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, nil, -32700, "Parse error", nil)
		return
	}

	if req.Method != "tools/call" {
		h.next.ServeHTTP(w, r)
		return
	}

	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(w, req.ID, -32602, "Invalid params", nil)
		return
	}
	toolName, _ := params["name"].(string)
	logger := h.logger.With("requestID", req.ID, "tool", toolName)

	requirements, gated := h.config.requirementsFor(toolName)
	if !gated {
		h.next.ServeHTTP(w, r)
		return
	}

	payment := extractPayment(params)
	if payment == nil {
		logger.Info("no payment provided for protected tool")
		h.writeError(w, req.ID, mcp.CodePaymentRequired, "Payment required",
			h.challengeData(toolName, requirements, "Payment required to access this resource"))
		return
	}

	if h.primary == nil {
		logger.Error("payment gate misconfigured: no facilitator")
		h.writeError(w, req.ID, -32603, "Payment gate misconfigured", nil)
		return
	}

	requirement, err := x402.FindMatchingRequirement(*payment, requirements)
	if err != nil {
		logger.Warn("payment matches no accepted option",
			"network", payment.AcceptedNetwork(), "scheme", payment.AcceptedScheme())
		h.writeError(w, req.ID, mcp.CodePaymentRequired, "Payment does not match any accepted payment option",
			h.challengeData(toolName, requirements, "Payment does not match any accepted payment option"))
		return
	}

	verifyResp, err := h.verify(r.Context(), *payment, *requirement)
	if err != nil {
		logger.Error("facilitator verification failed", "error", err)
		h.writeError(w, req.ID, -32603, fmt.Sprintf("Verification failed: %v", err), nil)
		return
	}
	if !verifyResp.IsValid {
		logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
		h.writeError(w, req.ID, mcp.CodePaymentRequired,
			fmt.Sprintf("Payment invalid: %s", verifyResp.InvalidReason),
			h.challengeData(toolName, requirements, "Payment verification failed: "+verifyResp.InvalidReason))
		return
	}

	logger.Info("payment verified", "payer", verifyResp.Payer)
	h.forwardAndSettle(w, r, body, req.ID, toolName, payment, *requirement, verifyResp, logger)
}

// verify runs verification against the primary facilitator, falling back
// to the secondary when the primary errors.
func (h *X402Handler) verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeouts.VerifyTimeout)
	defer cancel()

	resp, err := h.primary.Verify(ctx, payment, requirement)
	if err != nil && h.fallback != nil {
		h.logger.Warn("primary facilitator failed, trying fallback", "error", err)
		return h.fallback.Verify(ctx, payment, requirement)
	}
	return resp, err
}

// settle runs settlement against the primary facilitator, falling back
// to the secondary when the primary errors.
func (h *X402Handler) settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeouts.SettleTimeout)
	defer cancel()

	resp, err := h.primary.Settle(ctx, payment, requirement)
	if err != nil && h.fallback != nil {
		h.logger.Warn("primary facilitator settlement failed, trying fallback", "error", err)
		return h.fallback.Settle(ctx, payment, requirement)
	}
	return resp, err
}

// forwardAndSettle runs the tool call, settles the verified payment when
// the call succeeded and injects the receipt into result._meta. A tool
// error passes through untouched with settlement skipped.
func (h *X402Handler) forwardAndSettle(w http.ResponseWriter, r *http.Request, body []byte, requestID interface{},
	toolName string, payment *x402.PaymentPayload, requirement x402.PaymentRequirement,
	verifyResp *x402.VerifyResponse, logger *slog.Logger) {

	recorder := newRecorder()
	r.Body = io.NopCloser(bytes.NewReader(body))
	h.next.ServeHTTP(recorder, r)

	var resp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   json.RawMessage `json:"error,omitempty"`
		ID      interface{}     `json:"id"`
	}
	if err := json.Unmarshal(recorder.body.Bytes(), &resp); err != nil {
		// Streaming or otherwise non-JSON answer: forward untouched
		// rather than losing it; the receipt is only ever attached to a
		// plain JSON result.
		logger.Warn("tool response is not plain JSON-RPC, skipping settlement", "error", err)
		recorder.replay(w)
		return
	}

	if len(resp.Error) > 0 {
		logger.Info("tool call failed, skipping settlement")
		recorder.replay(w)
		return
	}

	receipt := &x402.SettlementResponse{
		Success: false,
		Network: payment.AcceptedNetwork(),
		Payer:   verifyResp.Payer,
	}
	if !h.config.VerifyOnly {
		settlement, err := h.settleNow(r.Context(), toolName, payment, requirement)
		if err != nil || !settlement.Success {
			reason := "settlement failed"
			if err != nil {
				reason = err.Error()
			} else if settlement.ErrorReason != "" {
				reason = settlement.ErrorReason
			}
			logger.Error("settlement failed", "reason", reason)

			if settlement != nil {
				*receipt = *settlement
			}
			if receipt.ErrorReason == "" {
				receipt.ErrorReason = reason
			}
			h.writeError(w, requestID, -32603, fmt.Sprintf("Settlement failed: %s", reason),
				map[string]interface{}{mcp.MetaKeyPaymentResponse: receipt})
			return
		}
		receipt = settlement
		logger.Info("payment settled", "transaction", settlement.Transaction)
	}

	if resp.Result != nil {
		var result map[string]interface{}
		if err := json.Unmarshal(resp.Result, &result); err == nil {
			meta, ok := result["_meta"].(map[string]interface{})
			if !ok {
				meta = make(map[string]interface{})
			}
			meta[mcp.MetaKeyPaymentResponse] = receipt
			result["_meta"] = meta
			if modified, err := json.Marshal(result); err == nil {
				resp.Result = modified
			}
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	recorder.replayHeaders(w)
	_, _ = w.Write(out)
}

// settleNow performs settlement and feeds the outcome to the settlement
// callback.
func (h *X402Handler) settleNow(ctx context.Context, toolName string, payment *x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	start := time.Now()
	settlement, err := h.settle(ctx, *payment, requirement)

	if h.config.OnSettlement != nil {
		event := x402.PaymentEvent{
			Timestamp: time.Now(),
			Method:    "MCP",
			Tool:      toolName,
			Network:   requirement.Network,
			Scheme:    requirement.Scheme,
			Amount:    requirement.Amount,
			Asset:     requirement.Asset,
			Recipient: requirement.PayTo,
			Duration:  time.Since(start),
		}
		switch {
		case err != nil:
			event.Type = x402.PaymentEventFailure
			event.Error = err
		case !settlement.Success:
			event.Type = x402.PaymentEventFailure
			event.Error = fmt.Errorf("%w: %s", x402.ErrSettlementFailed, settlement.ErrorReason)
		default:
			event.Type = x402.PaymentEventSuccess
			event.Transaction = settlement.Transaction
			event.Payer = settlement.Payer
		}
		h.config.OnSettlement(event)
	}

	return settlement, err
}

// extractPayment reads the signed payment out of params._meta, if any.
func extractPayment(params map[string]interface{}) *x402.PaymentPayload {
	meta, ok := params["_meta"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := meta[mcp.MetaKeyPayment]
	if !ok {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var payment x402.PaymentPayload
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil
	}
	return &payment
}

// challengeData renders the 402 error.data challenge for this gate's
// generation.
func (h *X402Handler) challengeData(toolName string, requirements []x402.PaymentRequirement, message string) json.RawMessage {
	challenge := &x402.PaymentRequired{
		X402Version: int(h.version),
		Error:       message,
		Accepts:     requirements,
	}
	if h.version == x402.V2 {
		challenge.Resource = &x402.ResourceInfo{URL: mcp.ToolResource(toolName)}
	}
	data, err := encoding.MarshalRequired(challenge)
	if err != nil {
		h.logger.Error("failed to marshal payment challenge", "error", err)
		return nil
	}
	return data
}

// writeError writes a JSON-RPC error response. JSON-RPC errors ride a
// 200 status; the payment signal lives in the error code.
func (h *X402Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		errObj["data"] = data
	}
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   errObj,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// recorder captures the MCP handler's response so the receipt can be
// attached before anything reaches the client.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) { r.status = status }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }

// replayHeaders copies the captured headers and status onto the real
// writer.
func (r *recorder) replayHeaders(w http.ResponseWriter) {
	for k, v := range r.header {
		w.Header()[k] = v
	}
	w.WriteHeader(r.status)
}

// replay forwards the captured response untouched.
func (r *recorder) replay(w http.ResponseWriter) {
	r.replayHeaders(w)
	_, _ = w.Write(r.body.Bytes())
}
