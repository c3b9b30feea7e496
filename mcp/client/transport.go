// Package client wraps an MCP transport with x402 payment handling: tool
// calls answered with a JSON-RPC 402 error are retried automatically with
// a signed payment in params._meta.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
	"github.com/x402labs/x402-go/extensions"
	"github.com/x402labs/x402-go/mcp"
)

// Transport wraps an MCP transport and answers x402 payment challenges.
// It implements transport.Interface, so it drops into any mcp-go client.
type Transport struct {
	base   transport.Interface
	config *Config
}

var _ transport.Interface = (*Transport)(nil)

// NewTransport creates an x402-enabled transport speaking streamable HTTP
// to the given MCP server.
func NewTransport(serverURL string, opts ...Option) (*Transport, error) {
	base, err := transport.NewStreamableHTTP(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create base transport: %w", err)
	}
	return Wrap(base, append([]Option{func(c *Config) { c.ServerURL = serverURL }}, opts...)...), nil
}

// Wrap adds x402 payment handling to an existing MCP transport of any
// kind (stdio, SSE, streamable HTTP).
func Wrap(base transport.Interface, opts ...Option) *Transport {
	config := DefaultConfig("")
	for _, opt := range opts {
		opt(config)
	}
	if config.Selector == nil {
		config.Selector = x402.NewDefaultPaymentSelector()
	}
	return &Transport{base: base, config: config}
}

// Unwrap returns the wrapped transport.
func (t *Transport) Unwrap() transport.Interface {
	return t.base
}

// Start starts the MCP connection.
func (t *Transport) Start(ctx context.Context) error {
	return t.base.Start(ctx)
}

// SendRequest implements transport.Interface. A response carrying a
// JSON-RPC 402 error is taken as a payment challenge: a signer is
// selected, the signed payment is injected under params._meta and the
// request is retried once. Any other response passes through untouched.
func (t *Transport) SendRequest(ctx context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	resp, err := t.base.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error == nil || resp.Error.Code != mcp.CodePaymentRequired {
		return resp, nil
	}

	challenge, err := t.parseChallenge(resp.Error.Data)
	if err != nil {
		return resp, mcp.WrapError(err, req.Method)
	}

	payment, startTime, err := t.createPayment(ctx, req.Method, challenge)
	if err != nil {
		return resp, mcp.WrapError(err, req.Method)
	}

	retryReq, err := injectPaymentMeta(req, payment)
	if err != nil {
		return resp, mcp.WrapError(err, req.Method)
	}

	return t.retryWithPayment(ctx, retryReq, payment, startTime)
}

// SendNotification forwards a notification to the server.
func (t *Transport) SendNotification(ctx context.Context, notif mcpproto.JSONRPCNotification) error {
	return t.base.SendNotification(ctx, notif)
}

// SetNotificationHandler sets the notification handler.
func (t *Transport) SetNotificationHandler(handler func(mcpproto.JSONRPCNotification)) {
	t.base.SetNotificationHandler(handler)
}

// Close closes the transport.
func (t *Transport) Close() error {
	return t.base.Close()
}

// GetSessionId returns the session ID.
func (t *Transport) GetSessionId() string {
	return t.base.GetSessionId()
}

// parseChallenge reads the payment challenge out of a 402 error's data.
// The challenge travels as its generation's wire JSON, so the shared
// codec owns the V1/V2 envelope differences.
func (t *Transport) parseChallenge(data interface{}) (*x402.PaymentRequired, error) {
	if data == nil {
		return nil, mcp.ErrNoPaymentRequirements
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error data: %w", err)
	}

	challenge, err := encoding.DecodeRequired(string(raw), x402.V1)
	if err != nil {
		return nil, err
	}
	if len(challenge.Accepts) == 0 {
		return nil, mcp.ErrNoPaymentRequirements
	}
	return challenge, nil
}

// createPayment selects a signer, signs a payment for the challenge and
// shapes it for the challenge's generation. The start time feeds event
// durations.
func (t *Transport) createPayment(ctx context.Context, tool string, challenge *x402.PaymentRequired) (*x402.PaymentPayload, time.Time, error) {
	startTime := time.Now()

	if t.config.OnPaymentAttempt != nil {
		req := challenge.Accepts[0]
		t.config.OnPaymentAttempt(x402.PaymentEvent{
			Type:      x402.PaymentEventAttempt,
			Timestamp: startTime,
			Method:    "MCP",
			Tool:      tool,
			Amount:    req.Amount,
			Asset:     req.Asset,
			Network:   req.Network,
			Scheme:    req.Scheme,
			Recipient: req.PayTo,
		})
	}

	payment, err := t.config.Selector.SelectAndSign(challenge.Accepts, t.config.Signers)
	if err != nil {
		t.failureEvent(tool, err, time.Since(startTime))
		return nil, startTime, err
	}

	x402.ConformPayment(challenge, payment)

	if payment.Version() == x402.V2 && len(t.config.Hooks) > 0 {
		seedDeclarations(challenge, payment, t.config.Hooks)
		if err := extensions.ApplyHooks(ctx, t.config.Hooks, payment); err != nil {
			t.failureEvent(tool, err, time.Since(startTime))
			return nil, startTime, err
		}
	}

	return payment, startTime, nil
}

// seedDeclarations copies the challenge's declaration into the payment's
// extensions map for every key a hook answers, so hooks see the server's
// declared parameters.
func seedDeclarations(challenge *x402.PaymentRequired, payment *x402.PaymentPayload, hooks []extensions.Hook) {
	if len(challenge.Extensions) == 0 {
		return
	}
	for _, hook := range hooks {
		declaration, ok := challenge.Extensions[hook.Key()]
		if !ok {
			continue
		}
		if payment.Extensions == nil {
			payment.Extensions = make(map[string]x402.Extension)
		}
		if _, exists := payment.Extensions[hook.Key()]; !exists {
			payment.Extensions[hook.Key()] = declaration
		}
	}
}

// injectPaymentMeta attaches the signed payment to the request under
// params._meta, preserving any _meta fields already present.
func injectPaymentMeta(req transport.JSONRPCRequest, payment *x402.PaymentPayload) (transport.JSONRPCRequest, error) {
	params, ok := req.Params.(map[string]interface{})
	if !ok {
		params = make(map[string]interface{})
		if req.Params != nil {
			data, err := json.Marshal(req.Params)
			if err != nil {
				return req, fmt.Errorf("failed to marshal params: %w", err)
			}
			if err := json.Unmarshal(data, &params); err != nil {
				return req, fmt.Errorf("failed to unmarshal params: %w", err)
			}
		}
	}

	meta, ok := params["_meta"].(map[string]interface{})
	if !ok {
		meta = make(map[string]interface{})
	}
	meta[mcp.MetaKeyPayment] = payment
	params["_meta"] = meta

	retryReq := req
	retryReq.Params = params
	return retryReq, nil
}

// retryWithPayment resends the request carrying the payment and reports
// the outcome through the configured callbacks.
func (t *Transport) retryWithPayment(ctx context.Context, req transport.JSONRPCRequest, payment *x402.PaymentPayload, startTime time.Time) (*transport.JSONRPCResponse, error) {
	resp, err := t.base.SendRequest(ctx, req)
	duration := time.Since(startTime)

	if err != nil {
		t.failureEvent(req.Method, err, duration)
		return resp, err
	}

	if resp.Error != nil {
		if resp.Error.Code == mcp.CodePaymentRequired {
			t.failureEvent(req.Method, fmt.Errorf("payment rejected: %s", resp.Error.Message), duration)
		}
		return resp, nil
	}

	if t.config.OnPaymentSuccess != nil {
		event := x402.PaymentEvent{
			Type:      x402.PaymentEventSuccess,
			Timestamp: time.Now(),
			Method:    "MCP",
			Tool:      req.Method,
			Network:   payment.AcceptedNetwork(),
			Scheme:    payment.AcceptedScheme(),
			Duration:  duration,
		}
		if settlement := settlementFromResult(resp.Result); settlement != nil {
			event.Transaction = settlement.Transaction
			event.Payer = settlement.Payer
		}
		t.config.OnPaymentSuccess(event)
	}

	return resp, nil
}

// settlementFromResult extracts the settlement receipt the server placed
// in result._meta. Returns nil when absent or unparseable.
func settlementFromResult(result json.RawMessage) *x402.SettlementResponse {
	if len(result) == 0 {
		return nil
	}
	var envelope struct {
		Meta map[string]json.RawMessage `json:"_meta"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		return nil
	}
	raw, ok := envelope.Meta[mcp.MetaKeyPaymentResponse]
	if !ok {
		return nil
	}
	var settlement x402.SettlementResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return nil
	}
	return &settlement
}

// failureEvent triggers the failure callback, if any.
func (t *Transport) failureEvent(tool string, err error, duration time.Duration) {
	if t.config.OnPaymentFailure == nil {
		return
	}
	t.config.OnPaymentFailure(x402.PaymentEvent{
		Type:      x402.PaymentEventFailure,
		Timestamp: time.Now(),
		Method:    "MCP",
		Tool:      tool,
		Error:     err,
		Duration:  duration,
	})
}
