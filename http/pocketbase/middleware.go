// Package pocketbase provides PocketBase-compatible middleware for x402
// payment gating. This package is a thin adapter that translates
// core.RequestEvent to stdlib http patterns and delegates the payment
// plumbing to shared helpers. Settlement runs before the handler, as in
// the Gin adapter: PocketBase's hook chain has no post-handler pre-flush
// stage.
package pocketbase

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
	"github.com/x402labs/x402-go/facilitator"
	httpx402 "github.com/x402labs/x402-go/http"
	"github.com/x402labs/x402-go/http/internal/helpers"
)

// NewPocketBaseX402Middleware creates a new x402 payment middleware for
// PocketBase. It returns a PocketBase-compatible middleware function that
// wraps handlers with payment gating.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Checks for a payment header (PAYMENT-SIGNATURE, then X-PAYMENT)
//   - Returns 402 Payment Required if missing or invalid
//   - Verifies payments with the facilitator
//   - Settles payments before the handler runs (unless VerifyOnly=true)
//   - Stores payment information in the request store via e.Set("x402_payment", verifyResp)
//   - Calls e.Next() on payment success to proceed to the protected handler
//
// After successful verification, payment details are stored in the request
// store with key "x402_payment" as *x402.VerifyResponse. Handlers can
// access them via:
//
//	verifyResp := e.Get("x402_payment").(*x402.VerifyResponse)
//
// Example usage:
//
//	config := &httpx402.Config{
//	    FacilitatorURL: "https://facilitator.example.com",
//	    PaymentRequirements: []x402.PaymentRequirement{{
//	        Scheme:            "exact",
//	        Network:           "eip155:84532",
//	        Amount:            "10000",
//	        Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
//	        PayTo:             "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	        MaxTimeoutSeconds: 300,
//	    }},
//	}
//
//	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
//	    middleware := NewPocketBaseX402Middleware(config)
//	    se.Router.GET("/api/premium/data", handler).BindFunc(middleware)
//	    return se.Next()
//	})
func NewPocketBaseX402Middleware(config *httpx402.Config) func(*core.RequestEvent) error {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := config.Timeouts
	if timeouts == (x402.TimeoutConfig{}) {
		timeouts = x402.DefaultTimeouts
	}
	version := x402.V2
	if config.Version.Valid() {
		version = config.Version
	}

	var primary facilitator.Interface
	var primaryClient *httpx402.FacilitatorClient
	if config.Facilitator != nil {
		primary = config.Facilitator
	} else {
		primaryClient = &httpx402.FacilitatorClient{
			BaseURL:               config.FacilitatorURL,
			Client:                &http.Client{Timeout: timeouts.RequestTimeout},
			Timeouts:              timeouts,
			Authorization:         config.FacilitatorAuthorization,
			AuthorizationProvider: config.FacilitatorAuthorizationProvider,
		}
		primary = primaryClient
	}

	var fallback facilitator.Interface
	if config.FallbackFacilitatorURL != "" {
		fallback = &httpx402.FacilitatorClient{
			BaseURL:               config.FallbackFacilitatorURL,
			Client:                &http.Client{Timeout: timeouts.RequestTimeout},
			Timeouts:              timeouts,
			Authorization:         config.FallbackFacilitatorAuthorization,
			AuthorizationProvider: config.FallbackFacilitatorAuthorizationProvider,
		}
	}

	// Enrich payment requirements with facilitator-specific data (like feePayer).
	enrichedRequirements := config.PaymentRequirements
	if primaryClient != nil && primaryClient.BaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.RequestTimeout)
		defer cancel()
		enriched, err := primaryClient.EnrichRequirements(ctx, config.PaymentRequirements)
		if err != nil {
			// Continue with original requirements.
			logger.Warn("failed to enrich payment requirements from facilitator", "error", err)
		} else {
			logger.Info("payment requirements enriched from facilitator", "count", len(enriched))
			enrichedRequirements = enriched
		}
	}

	return func(e *core.RequestEvent) error {
		// CORS preflight carries no payment header by design.
		if e.Request.Method == http.MethodOptions {
			return e.Next()
		}

		resourceURL := helpers.BuildResourceURL(e.Request)

		// Populate resource field in requirements with the actual request URL.
		requirements := make([]x402.PaymentRequirement, len(enrichedRequirements))
		for i, req := range enrichedRequirements {
			requirements[i] = req
			requirements[i].Resource = resourceURL
			if requirements[i].Description == "" {
				requirements[i].Description = "Payment required for " + e.Request.URL.Path
			}
		}

		headerValue, headerVersion, ok := helpers.PaymentHeader(e.Request)
		if !ok {
			logger.Info("no payment header provided", "path", e.Request.URL.Path)
			return sendPaymentRequired(e, version, resourceURL, requirements, "Payment required for this resource")
		}

		payment, err := encoding.DecodePayment(headerValue, headerVersion)
		if err != nil {
			logger.Warn("invalid payment header", "error", err)
			return e.JSON(http.StatusBadRequest, map[string]any{
				"x402Version": int(version),
				"error":       "Invalid payment header",
			})
		}

		wireVersion := payment.Version()
		if !wireVersion.Valid() {
			wireVersion = headerVersion
		}

		requirement, err := helpers.FindMatchingRequirement(*payment, requirements)
		if err != nil {
			logger.Warn("no matching requirement",
				"network", payment.AcceptedNetwork(), "scheme", payment.AcceptedScheme())
			return e.JSON(http.StatusBadRequest, map[string]any{
				"x402Version": int(version),
				"error":       "Payment does not match any accepted payment option",
			})
		}

		logger.Info("verifying payment",
			"scheme", payment.AcceptedScheme(), "network", payment.AcceptedNetwork())
		verifyResp, err := primary.Verify(e.Request.Context(), *payment, requirement)
		if err != nil && fallback != nil {
			logger.Warn("primary facilitator failed, trying fallback", "error", err)
			verifyResp, err = fallback.Verify(e.Request.Context(), *payment, requirement)
		}
		if err != nil {
			logger.Error("facilitator verification failed", "error", err)
			status, message := helpers.VerifyErrorStatus(err)
			return e.JSON(status, map[string]any{
				"x402Version": int(version),
				"error":       message,
			})
		}

		if !verifyResp.IsValid {
			logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
			return sendPaymentRequired(e, version, resourceURL, requirements, "Payment verification failed")
		}

		logger.Info("payment verified", "payer", verifyResp.Payer)

		// Store payment info in PocketBase request store for handler access.
		e.Set("x402_payment", verifyResp)

		if !config.VerifyOnly {
			logger.Info("settling payment", "payer", verifyResp.Payer)
			settlementResp, err := primary.Settle(e.Request.Context(), *payment, requirement)
			if err != nil && fallback != nil {
				logger.Warn("primary facilitator settlement failed, trying fallback", "error", err)
				settlementResp, err = fallback.Settle(e.Request.Context(), *payment, requirement)
			}
			if err != nil {
				logger.Error("settlement failed", "error", err)
				return e.JSON(http.StatusBadGateway, map[string]any{
					"x402Version": int(version),
					"error":       "Payment settlement failed",
				})
			}

			if !settlementResp.Success {
				logger.Warn("settlement unsuccessful", "reason", settlementResp.ErrorReason)
				return e.JSON(helpers.SettlementFailureStatus(settlementResp), settlementResp)
			}

			logger.Info("payment settled", "transaction", settlementResp.Transaction)

			// Payment went through; the response just lacks the receipt.
			if err := helpers.AddPaymentResponseHeader(e.Response, settlementResp, wireVersion); err != nil {
				logger.Warn("failed to add payment response header", "error", err)
			}
		}

		return e.Next()
	}
}

// sendPaymentRequired answers with a 402 carrying the challenge in both
// the generation's header and the response body. Returns the error from
// e.JSON-equivalent plumbing to stop the handler chain.
func sendPaymentRequired(e *core.RequestEvent, version x402.Version, resourceURL string, requirements []x402.PaymentRequirement, message string) error {
	challenge := &x402.PaymentRequired{
		X402Version: int(version),
		Error:       message,
		Accepts:     requirements,
	}
	if version == x402.V2 {
		challenge.Resource = &x402.ResourceInfo{URL: resourceURL}
	}

	header, err := encoding.EncodeRequired(challenge)
	if err != nil {
		return e.JSON(http.StatusPaymentRequired, map[string]any{
			"x402Version": int(version),
			"error":       message,
		})
	}
	body, err := encoding.MarshalRequired(challenge)
	if err != nil {
		return e.JSON(http.StatusPaymentRequired, map[string]any{
			"x402Version": int(version),
			"error":       message,
		})
	}

	e.Response.Header().Set(version.RequiredHeader(), header)
	e.Response.Header().Set("Content-Type", "application/json")
	e.Response.WriteHeader(http.StatusPaymentRequired)
	_, err = e.Response.Write(body)
	return err
}
