// Package http provides HTTP middleware, client and transport for x402
// payment flows. The middleware gates handlers behind a 402 challenge,
// verifies incoming payments through a facilitator and settles them on
// chain; the client side (Client, X402Transport) answers challenges
// automatically.
package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
	"github.com/x402labs/x402-go/facilitator"
	"github.com/x402labs/x402-go/http/internal/helpers"
)

// SettlementMode selects when settlement runs relative to the wrapped
// handler.
type SettlementMode int

const (
	// SettlementModeIntercept settles after the handler runs but before
	// its response is committed: a wrapping ResponseWriter intercepts the
	// first WriteHeader, statuses >= 400 pass through with settlement
	// skipped, and the handler's body is discarded when settlement fails.
	// This is the default.
	SettlementModeIntercept SettlementMode = iota

	// SettlementModeSync buffers the handler's entire response, settles,
	// then flushes the buffer or replaces it with the failure response.
	SettlementModeSync

	// SettlementModeAsync responds as soon as verification passes.
	// Settlement runs in a detached goroutine observable through slog and
	// the OnSettlement callback; the request path never awaits it.
	SettlementModeAsync
)

// Config holds the configuration for the x402 middleware.
type Config struct {
	// FacilitatorURL is the primary facilitator endpoint.
	FacilitatorURL string

	// FallbackFacilitatorURL is the optional backup facilitator, consulted
	// when the primary errors.
	FallbackFacilitatorURL string

	// Facilitator overrides FacilitatorURL with an in-process
	// implementation such as facilitator.Local.
	Facilitator facilitator.Interface

	// PaymentRequirements defines the accepted payment methods.
	PaymentRequirements []x402.PaymentRequirement

	// Version is the protocol generation advertised in challenges.
	// Defaults to x402.V2. Incoming payments of either generation are
	// accepted regardless.
	Version x402.Version

	// Extensions are declared on outgoing V2 challenges under their
	// well-known keys. When the facilitator's /supported endpoint is
	// reachable, keys it does not recognize for the advertised networks
	// are withheld.
	Extensions map[string]x402.Extension

	// SettlementMode selects when settlement runs relative to the
	// handler. The zero value is response interception.
	SettlementMode SettlementMode

	// VerifyOnly skips settlement if true (only verifies payments).
	VerifyOnly bool

	// OnSettlement observes settlement outcomes. In fire-and-forget mode
	// it is the only way for the application to learn the result.
	OnSettlement x402.PaymentCallback

	// Timeouts bounds facilitator calls. The zero value selects
	// x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig

	// Logger receives middleware events. Defaults to slog.Default().
	Logger *slog.Logger

	// FacilitatorAuthorization is a static Authorization header value for the primary facilitator.
	// Example: "Bearer your-api-key" or "Basic base64-encoded-credentials"
	FacilitatorAuthorization string

	// FacilitatorAuthorizationProvider is a function that returns an Authorization header value
	// for the primary facilitator. Useful for dynamic tokens that may need to be refreshed.
	// If set, this takes precedence over FacilitatorAuthorization.
	FacilitatorAuthorizationProvider AuthorizationProvider

	// Facilitator hooks for custom logic before/after verify and settle operations
	FacilitatorOnBeforeVerify OnBeforeFunc
	FacilitatorOnAfterVerify  OnAfterVerifyFunc
	FacilitatorOnBeforeSettle OnBeforeFunc
	FacilitatorOnAfterSettle  OnAfterSettleFunc

	// FallbackFacilitatorAuthorization is a static Authorization header value for the fallback facilitator.
	FallbackFacilitatorAuthorization string

	// FallbackFacilitatorAuthorizationProvider is a function that returns an Authorization header value
	// for the fallback facilitator. If set, this takes precedence over FallbackFacilitatorAuthorization.
	FallbackFacilitatorAuthorizationProvider AuthorizationProvider

	// FallbackFacilitator hooks for custom logic before/after verify and settle operations
	FallbackFacilitatorOnBeforeVerify OnBeforeFunc
	FallbackFacilitatorOnAfterVerify  OnAfterVerifyFunc
	FallbackFacilitatorOnBeforeSettle OnBeforeFunc
	FallbackFacilitatorOnAfterSettle  OnAfterSettleFunc
}

// challengeVersion returns the generation advertised in challenges.
func (c *Config) challengeVersion() x402.Version {
	if c.Version.Valid() {
		return c.Version
	}
	return x402.V2
}

// NewX402Middleware creates a new x402 payment middleware gating every
// request. It returns a middleware function that wraps HTTP handlers with
// payment gating. When a facilitator URL is configured, network-specific
// requirement data (like the feePayer for SVM chains) is fetched from its
// /supported endpoint at construction time.
//
// To gate only some paths, use NewRouteMiddleware.
func NewX402Middleware(config *Config) func(http.Handler) http.Handler {
	g := newGate(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

// gate is the per-config machinery shared by every request through one
// middleware instance: resolved facilitators, enriched requirements and
// the capability cache backing extension advertisement.
type gate struct {
	config        *Config
	version       x402.Version
	timeouts      x402.TimeoutConfig
	logger        *slog.Logger
	primary       facilitator.Interface
	fallback      facilitator.Interface
	requirements  []x402.PaymentRequirement
	capabilities  *facilitator.CapabilityCache
	supported     facilitator.SupportedFunc
	capabilityURL string
	extensionKeys []string
}

func newGate(config *Config) *gate {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := config.Timeouts
	if timeouts == (x402.TimeoutConfig{}) {
		timeouts = x402.DefaultTimeouts
	}

	g := &gate{
		config:   config,
		version:  config.challengeVersion(),
		timeouts: timeouts,
		logger:   logger,
	}

	var primaryClient *FacilitatorClient
	if config.Facilitator != nil {
		g.primary = config.Facilitator
	} else {
		primaryClient = &FacilitatorClient{
			BaseURL:               config.FacilitatorURL,
			Client:                &http.Client{},
			Timeouts:              timeouts,
			Authorization:         config.FacilitatorAuthorization,
			AuthorizationProvider: config.FacilitatorAuthorizationProvider,
			OnBeforeVerify:        config.FacilitatorOnBeforeVerify,
			OnAfterVerify:         config.FacilitatorOnAfterVerify,
			OnBeforeSettle:        config.FacilitatorOnBeforeSettle,
			OnAfterSettle:         config.FacilitatorOnAfterSettle,
		}
		g.primary = primaryClient
	}

	if config.FallbackFacilitatorURL != "" {
		g.fallback = &FacilitatorClient{
			BaseURL:               config.FallbackFacilitatorURL,
			Client:                &http.Client{},
			Timeouts:              timeouts,
			Authorization:         config.FallbackFacilitatorAuthorization,
			AuthorizationProvider: config.FallbackFacilitatorAuthorizationProvider,
			OnBeforeVerify:        config.FallbackFacilitatorOnBeforeVerify,
			OnAfterVerify:         config.FallbackFacilitatorOnAfterVerify,
			OnBeforeSettle:        config.FallbackFacilitatorOnBeforeSettle,
			OnAfterSettle:         config.FallbackFacilitatorOnAfterSettle,
		}
	}

	// Enrich payment requirements with facilitator-specific data (like feePayer).
	g.requirements = config.PaymentRequirements
	if primaryClient != nil && primaryClient.BaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.RequestTimeout)
		defer cancel()
		enriched, err := primaryClient.EnrichRequirements(ctx, config.PaymentRequirements)
		if err != nil {
			// Continue with original requirements.
			logger.Warn("failed to enrich payment requirements from facilitator", "error", err)
		} else {
			logger.Info("payment requirements enriched from facilitator", "count", len(enriched))
			g.requirements = enriched
		}
	}

	if len(config.Extensions) > 0 {
		g.capabilities = facilitator.NewCapabilityCache(0)
		g.supported = g.primary.Supported
		g.capabilityURL = config.FacilitatorURL
		keys := make([]string, 0, len(config.Extensions))
		for key := range config.Extensions {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		g.extensionKeys = keys
	}

	return g
}

// serve runs one request through the payment state machine.
func (g *gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	resourceURL := helpers.BuildResourceURL(r)

	// Stamp the live request URL into the advertised options.
	requirements := make([]x402.PaymentRequirement, len(g.requirements))
	for i, req := range g.requirements {
		requirements[i] = req
		requirements[i].Resource = resourceURL
		if requirements[i].Description == "" {
			requirements[i].Description = "Payment required for " + r.URL.Path
		}
	}

	headerValue, headerVersion, ok := helpers.PaymentHeader(r)
	if !ok {
		g.logger.Info("no payment header provided", "path", r.URL.Path)
		g.sendChallenge(w, r, requirements, "Payment required for this resource")
		return
	}

	payment, err := encoding.DecodePayment(headerValue, headerVersion)
	if err != nil {
		g.logger.Warn("invalid payment header", "error", err)
		http.Error(w, "Invalid payment header", http.StatusBadRequest)
		return
	}

	// The settlement header answers in the payment's generation; an
	// unknown generation falls back to the header it arrived on and gets
	// rejected during verification.
	wireVersion := payment.Version()
	if !wireVersion.Valid() {
		wireVersion = headerVersion
	}

	requirement, err := helpers.FindMatchingRequirement(*payment, requirements)
	if err != nil {
		g.logger.Warn("no matching requirement",
			"network", payment.AcceptedNetwork(), "scheme", payment.AcceptedScheme())
		http.Error(w, "Payment does not match any accepted payment option", http.StatusBadRequest)
		return
	}

	// The requirement's network spelling fixes its generation; a payload
	// of the other generation is re-challenged without consulting the
	// facilitator.
	if want := x402.NetworkVersion(requirement.Network); payment.Version() != want {
		g.logger.Warn("payment generation mismatch",
			"payment", payment.X402Version, "requirement", int(want))
		g.sendChallenge(w, r, requirements, "Payment verification failed: "+x402.ReasonVersionMismatch)
		return
	}

	g.logger.Info("verifying payment",
		"scheme", payment.AcceptedScheme(), "network", payment.AcceptedNetwork())
	verifyResp, err := g.verify(r.Context(), *payment, requirement)
	if err != nil {
		g.verifyError(w, err)
		return
	}
	if !verifyResp.IsValid {
		g.logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
		g.sendChallenge(w, r, requirements, verificationMessage(verifyResp))
		return
	}

	g.logger.Info("payment verified", "payer", verifyResp.Payer)

	// Store payment info in context for handler access.
	ctx := context.WithValue(r.Context(), PaymentContextKey, verifyResp)
	ctx = context.WithValue(ctx, PayloadContextKey, payment)
	r = r.WithContext(ctx)

	if g.config.VerifyOnly {
		next.ServeHTTP(w, r)
		return
	}

	switch g.config.SettlementMode {
	case SettlementModeAsync:
		// Detach settlement from the request's cancellation: the response
		// goes out now, the transfer completes on its own schedule.
		settleCtx := context.WithoutCancel(r.Context())
		go g.settleDetached(settleCtx, payment, requirement, resourceURL)
		next.ServeHTTP(w, r)

	case SettlementModeSync:
		g.serveBuffered(w, r, next, payment, requirement, wireVersion, resourceURL)

	default:
		g.serveIntercepted(w, r, next, payment, requirement, wireVersion, resourceURL)
	}
}

// verify runs verification against the primary facilitator, falling back
// to the secondary when the primary errors. Each facilitator gets its own
// timeout budget so a slow primary cannot starve the fallback.
func (g *gate) verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	resp, err := g.verifyWith(ctx, g.primary, payment, requirement)
	if err != nil && g.fallback != nil {
		g.logger.Warn("primary facilitator failed, trying fallback", "error", err)
		return g.verifyWith(ctx, g.fallback, payment, requirement)
	}
	return resp, err
}

func (g *gate) verifyWith(ctx context.Context, f facilitator.Interface, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && g.timeouts.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeouts.VerifyTimeout)
		defer cancel()
	}
	return f.Verify(ctx, payment, requirement)
}

// settle runs settlement against the primary facilitator, falling back to
// the secondary when the primary errors.
func (g *gate) settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	resp, err := g.settleWith(ctx, g.primary, payment, requirement)
	if err != nil && g.fallback != nil {
		g.logger.Warn("primary facilitator settlement failed, trying fallback", "error", err)
		return g.settleWith(ctx, g.fallback, payment, requirement)
	}
	return resp, err
}

func (g *gate) settleWith(ctx context.Context, f facilitator.Interface, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && g.timeouts.SettleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeouts.SettleTimeout)
		defer cancel()
	}
	return f.Settle(ctx, payment, requirement)
}

// verifyError maps a verification transport error to a response: client
// mistakes get 400, broken configuration gets 500, an unreachable
// facilitator gets 503.
func (g *gate) verifyError(w http.ResponseWriter, err error) {
	status, message := helpers.VerifyErrorStatus(err)
	switch status {
	case http.StatusBadRequest:
		g.logger.Warn("payment rejected as malformed", "error", err)
	case http.StatusInternalServerError:
		g.logger.Error("payment gate misconfigured", "error", err)
	default:
		g.logger.Error("facilitator verification failed", "error", err)
	}
	http.Error(w, message, status)
}

// serveIntercepted runs the handler behind a response interceptor that
// settles at the moment of commitment.
func (g *gate) serveIntercepted(w http.ResponseWriter, r *http.Request, next http.Handler,
	payment *x402.PaymentPayload, requirement x402.PaymentRequirement, version x402.Version, resourceURL string) {

	interceptor := &settlementInterceptor{
		w: w,
		settleFunc: func() bool {
			settlement, err := g.settleNow(r.Context(), payment, requirement, resourceURL)
			if err != nil || !settlement.Success {
				g.writeSettlementFailure(w, settlement, err)
				return false
			}
			if err := helpers.AddPaymentResponseHeader(w, settlement, version); err != nil {
				// Payment went through; the response just lacks the receipt.
				g.logger.Warn("failed to add payment response header", "error", err)
			}
			return true
		},
		onFailure: func(statusCode int) {
			g.logger.Warn("handler returned non-success, skipping payment settlement", "status", statusCode)
		},
	}
	next.ServeHTTP(interceptor, r)
}

// serveBuffered holds the handler's whole response until settlement
// decides its fate.
func (g *gate) serveBuffered(w http.ResponseWriter, r *http.Request, next http.Handler,
	payment *x402.PaymentPayload, requirement x402.PaymentRequirement, version x402.Version, resourceURL string) {

	buffer := newBufferedWriter()
	next.ServeHTTP(buffer, r)

	if buffer.status >= 400 {
		g.logger.Warn("handler returned non-success, skipping payment settlement", "status", buffer.status)
		buffer.flush(w)
		return
	}

	settlement, err := g.settleNow(r.Context(), payment, requirement, resourceURL)
	if err != nil || !settlement.Success {
		g.writeSettlementFailure(w, settlement, err)
		return
	}
	if err := helpers.AddPaymentResponseHeader(w, settlement, version); err != nil {
		g.logger.Warn("failed to add payment response header", "error", err)
	}
	buffer.flush(w)
}

// settleDetached is the fire-and-forget body: it settles, then reports
// only through the log and the configured callback.
func (g *gate) settleDetached(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirement, resourceURL string) {
	settlement, err := g.settleNow(ctx, payment, requirement, resourceURL)
	switch {
	case err != nil:
		g.logger.Error("detached settlement failed", "error", err, "url", resourceURL)
	case !settlement.Success:
		g.logger.Warn("detached settlement unsuccessful",
			"reason", settlement.ErrorReason, "url", resourceURL)
	}
}

// settleNow performs settlement and feeds the outcome to the settlement
// callback.
func (g *gate) settleNow(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirement, resourceURL string) (*x402.SettlementResponse, error) {
	start := time.Now()
	g.logger.Info("settling payment", "network", requirement.Network)
	settlement, err := g.settle(ctx, *payment, requirement)

	if g.config.OnSettlement != nil {
		event := x402.PaymentEvent{
			Timestamp: time.Now(),
			Method:    "HTTP",
			URL:       resourceURL,
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
		g.config.OnSettlement(event)
	}

	if err == nil && settlement.Success {
		g.logger.Info("payment settled", "transaction", settlement.Transaction, "payer", settlement.Payer)
	}
	return settlement, err
}

// writeSettlementFailure reports a failed settlement: 502 for transport
// and on-chain failures, 400 when the authorization's nonce was already
// spent (the client must sign a fresh one). The settlement body, when
// present, carries the errorReason.
func (g *gate) writeSettlementFailure(w http.ResponseWriter, settlement *x402.SettlementResponse, err error) {
	if err != nil {
		g.logger.Error("settlement failed", "error", err)
		http.Error(w, "Payment settlement failed", http.StatusBadGateway)
		return
	}

	g.logger.Warn("settlement unsuccessful", "reason", settlement.ErrorReason)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(helpers.SettlementFailureStatus(settlement))
	_ = json.NewEncoder(w).Encode(settlement)
}

// sendChallenge writes the 402 challenge for this gate's generation.
func (g *gate) sendChallenge(w http.ResponseWriter, r *http.Request, requirements []x402.PaymentRequirement, message string) {
	challenge := &x402.PaymentRequired{
		X402Version: int(g.version),
		Error:       message,
		Accepts:     requirements,
	}
	if g.version == x402.V2 {
		challenge.Resource = &x402.ResourceInfo{URL: helpers.BuildResourceURL(r)}
		challenge.Extensions = g.challengeExtensions(r.Context(), requirements)
	}
	if err := helpers.SendPaymentRequired(w, challenge); err != nil {
		g.logger.Error("failed to send payment challenge", "error", err)
		http.Error(w, "Payment required", http.StatusPaymentRequired)
	}
}

// challengeExtensions narrows the configured extensions to the keys the
// facilitator recognizes for at least one advertised network. When
// capability discovery fails outright the full set is advertised:
// availability wins, and the facilitator still has the final word at
// verification time.
func (g *gate) challengeExtensions(ctx context.Context, requirements []x402.PaymentRequirement) map[string]x402.Extension {
	if len(g.config.Extensions) == 0 {
		return nil
	}
	if g.capabilities == nil || g.supported == nil {
		return g.config.Extensions
	}

	recognized := make(map[string]bool)
	for _, req := range requirements {
		keys, err := g.capabilities.Extensions(ctx, g.capabilityURL, req.Network, g.supported)
		if err != nil {
			g.logger.Warn("capability discovery failed, advertising unfiltered extensions", "error", err)
			return g.config.Extensions
		}
		for _, key := range keys {
			recognized[key] = true
		}
	}

	filtered := make(map[string]x402.Extension, len(recognized))
	for _, key := range g.extensionKeys {
		if recognized[key] {
			filtered[key] = g.config.Extensions[key]
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

// verificationMessage renders the re-challenge error line for a failed
// verification.
func verificationMessage(resp *x402.VerifyResponse) string {
	if resp.InvalidMessage != "" {
		return resp.InvalidMessage
	}
	if resp.InvalidReason != "" {
		return "Payment verification failed: " + resp.InvalidReason
	}
	return "Payment verification failed"
}

// settlementInterceptor wraps the ResponseWriter to intercept the moment
// of commitment.
type settlementInterceptor struct {
	w http.ResponseWriter
	// settleFunc is the callback that performs the actual settlement logic
	settleFunc func() bool
	// onFailure is an internal logging callback
	onFailure func(statusCode int)
	committed bool
	hijacked  bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// If the handler calls Write without WriteHeader, it implies 200 OK.
	// We must trigger our check now.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}

	// If settlement failed, we have "hijacked" the connection to send an error.
	// We silently discard the handler's payload to prevent mixed responses.
	if i.hijacked {
		return len(b), nil
	}

	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	// Case 1: Handler is returning an error (e.g., 404, 500).
	// We do nothing. Let the error pass through. No settlement.
	if statusCode >= 400 {
		if i.onFailure != nil {
			i.onFailure(statusCode)
		}
		i.w.WriteHeader(statusCode)
		return
	}

	// Case 2: Handler wants to succeed. STOP!
	// We run the settlement logic now.
	if !i.settleFunc() {
		// Settlement failed. We mark as hijacked.
		// The settleFunc has already written the failure response to the
		// underlying writer.
		i.hijacked = true
		return
	}

	// Case 3: Settlement succeeded.
	// The settleFunc has already added the settlement response header.
	// We now allow the original status code to proceed.
	i.w.WriteHeader(statusCode)
}

// Flush implements http.Flusher to support streaming responses.
func (i *settlementInterceptor) Flush() {
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

// bufferedWriter captures a handler's response for the synchronous
// settlement mode.
type bufferedWriter struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(statusCode int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = statusCode
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

// flush replays the captured response onto the real writer.
func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for key, values := range b.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
