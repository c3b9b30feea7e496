// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib
// http patterns and delegates the payment plumbing to shared helpers.
// Settlement runs before the handler: Gin's chained HandlerFunc model has
// no post-handler pre-flush stage, so a request reaches the handler only
// after its payment settled.
package gin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/encoding"
	"github.com/x402labs/x402-go/facilitator"
	httpx402 "github.com/x402labs/x402-go/http"
	"github.com/x402labs/x402-go/http/internal/helpers"
)

// NewGinX402Middleware creates a new x402 payment middleware for Gin.
// It returns a Gin-compatible middleware function that wraps handlers with
// payment gating.
//
// The middleware:
//   - Checks for a payment header (PAYMENT-SIGNATURE, then X-PAYMENT)
//   - Returns 402 Payment Required if missing or invalid
//   - Verifies payments with the facilitator
//   - Settles payments before the handler runs (unless VerifyOnly=true)
//   - Stores payment information in Gin context via c.Set("x402_payment", verifyResp)
//   - Calls c.Abort() on payment failure to stop the handler chain
//   - Calls c.Next() on payment success to proceed to the protected handler
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
//	r := gin.Default()
//	r.Use(ginx402.NewGinX402Middleware(config))
//	r.GET("/protected", func(c *gin.Context) {
//	    if payment, exists := c.Get("x402_payment"); exists {
//	        verifyResp := payment.(*x402.VerifyResponse)
//	        c.JSON(200, gin.H{"payer": verifyResp.Payer})
//	    }
//	})
func NewGinX402Middleware(config *httpx402.Config) gin.HandlerFunc {
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
			Client:                &http.Client{},
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
			Client:                &http.Client{},
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

	return func(c *gin.Context) {
		resourceURL := helpers.BuildResourceURL(c.Request)

		// Populate resource field in requirements with the actual request URL.
		requirements := make([]x402.PaymentRequirement, len(enrichedRequirements))
		for i, req := range enrichedRequirements {
			requirements[i] = req
			requirements[i].Resource = resourceURL
			if requirements[i].Description == "" {
				requirements[i].Description = "Payment required for " + c.Request.URL.Path
			}
		}

		headerValue, headerVersion, ok := helpers.PaymentHeader(c.Request)
		if !ok {
			logger.Info("no payment header provided", "path", c.Request.URL.Path)
			sendPaymentRequiredGin(c, version, resourceURL, requirements, "Payment required for this resource")
			return
		}

		payment, err := encoding.DecodePayment(headerValue, headerVersion)
		if err != nil {
			logger.Warn("invalid payment header", "error", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"x402Version": int(version),
				"error":       "Invalid payment header",
			})
			return
		}

		wireVersion := payment.Version()
		if !wireVersion.Valid() {
			wireVersion = headerVersion
		}

		requirement, err := helpers.FindMatchingRequirement(*payment, requirements)
		if err != nil {
			logger.Warn("no matching requirement",
				"network", payment.AcceptedNetwork(), "scheme", payment.AcceptedScheme())
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"x402Version": int(version),
				"error":       "Payment does not match any accepted payment option",
			})
			return
		}

		logger.Info("verifying payment",
			"scheme", payment.AcceptedScheme(), "network", payment.AcceptedNetwork())
		verifyResp, err := primary.Verify(c.Request.Context(), *payment, requirement)
		if err != nil && fallback != nil {
			logger.Warn("primary facilitator failed, trying fallback", "error", err)
			verifyResp, err = fallback.Verify(c.Request.Context(), *payment, requirement)
		}
		if err != nil {
			logger.Error("facilitator verification failed", "error", err)
			status, message := helpers.VerifyErrorStatus(err)
			c.AbortWithStatusJSON(status, gin.H{
				"x402Version": int(version),
				"error":       message,
			})
			return
		}

		if !verifyResp.IsValid {
			logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
			sendPaymentRequiredGin(c, version, resourceURL, requirements, "Payment verification failed")
			return
		}

		logger.Info("payment verified", "payer", verifyResp.Payer)

		if !config.VerifyOnly {
			logger.Info("settling payment", "payer", verifyResp.Payer)
			settlementResp, err := primary.Settle(c.Request.Context(), *payment, requirement)
			if err != nil && fallback != nil {
				logger.Warn("primary facilitator settlement failed, trying fallback", "error", err)
				settlementResp, err = fallback.Settle(c.Request.Context(), *payment, requirement)
			}
			if err != nil {
				logger.Error("settlement failed", "error", err)
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
					"x402Version": int(version),
					"error":       "Payment settlement failed",
				})
				return
			}

			if !settlementResp.Success {
				logger.Warn("settlement unsuccessful", "reason", settlementResp.ErrorReason)
				c.AbortWithStatusJSON(helpers.SettlementFailureStatus(settlementResp), settlementResp)
				return
			}

			logger.Info("payment settled", "transaction", settlementResp.Transaction)

			if err := helpers.AddPaymentResponseHeader(c.Writer, settlementResp, wireVersion); err != nil {
				// Payment went through; the response just lacks the receipt.
				logger.Warn("failed to add payment response header", "error", err)
			}
		}

		// Store payment info in Gin context for handler access.
		c.Set("x402_payment", verifyResp)

		// Also store in stdlib context for compatibility with http package helpers.
		ctx := context.WithValue(c.Request.Context(), httpx402.PaymentContextKey, verifyResp)
		ctx = context.WithValue(ctx, httpx402.PayloadContextKey, payment)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// sendPaymentRequiredGin aborts the chain with a 402 carrying the
// challenge in both the generation's header and the response body.
func sendPaymentRequiredGin(c *gin.Context, version x402.Version, resourceURL string, requirements []x402.PaymentRequirement, message string) {
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
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"x402Version": int(version),
			"error":       message,
		})
		return
	}
	body, err := encoding.MarshalRequired(challenge)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"x402Version": int(version),
			"error":       message,
		})
		return
	}

	c.Header(version.RequiredHeader(), header)
	c.Data(http.StatusPaymentRequired, "application/json", body)
	c.Abort()
}
