// Package chi provides Chi-compatible middleware for x402 payment gating.
// Chi middleware uses the stdlib func(http.Handler) http.Handler shape, so
// this package is a thin adapter over the core middleware: it adds the
// CORS preflight bypass and delegates everything else, which means Chi
// routes get route matching, both protocol generations and all three
// settlement modes for free.
package chi

import (
	"net/http"

	httpx402 "github.com/x402labs/x402-go/http"
)

// NewChiX402Middleware creates a new x402 payment middleware for Chi.
// It returns a Chi-compatible middleware function that wraps handlers with
// payment gating.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Challenges requests without a payment header with 402
//   - Verifies payments with the facilitator
//   - Settles payments per the configured settlement mode (unless VerifyOnly=true)
//   - Stores payment information in request context via httpx402.PaymentContextKey
//   - Calls the next handler on payment success
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
//	r := chi.NewRouter()
//	r.Use(chix402.NewChiX402Middleware(config))
//	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
//	    payment, _ := httpx402.PaymentFromContext(r.Context())
//	    w.Write([]byte("Access granted! Payer: " + payment.Payer))
//	})
func NewChiX402Middleware(config *httpx402.Config) func(http.Handler) http.Handler {
	gate := httpx402.NewX402Middleware(config)
	return func(next http.Handler) http.Handler {
		gated := gate(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight requests never carry a payment header.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}

// NewChiRouteMiddleware gates only the routes whose pattern matches,
// letting everything else pass through. Patterns support exact paths and
// "/*" suffix wildcards; the first match wins.
func NewChiRouteMiddleware(routes []httpx402.Route) func(http.Handler) http.Handler {
	gate := httpx402.NewRouteMiddleware(routes)
	return func(next http.Handler) http.Handler {
		gated := gate(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}
