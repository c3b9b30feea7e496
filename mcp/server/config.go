package server

import (
	"log/slog"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/facilitator"
	"github.com/x402labs/x402-go/http"
	"github.com/x402labs/x402-go/mcp"
)

// Config holds configuration for the MCP server with x402 payment support.
type Config struct {
	// FacilitatorURL is the x402 facilitator endpoint used to verify and
	// settle payments.
	FacilitatorURL string

	// Facilitator overrides FacilitatorURL with an in-process
	// implementation such as facilitator.Local.
	Facilitator facilitator.Interface

	// FallbackFacilitatorURL is an optional backup facilitator, consulted
	// when the primary errors.
	FallbackFacilitatorURL string

	// FacilitatorAuthorization is a static Authorization header value for
	// the primary facilitator.
	FacilitatorAuthorization string

	// FacilitatorAuthorizationProvider returns an Authorization header
	// value per request. Takes precedence over FacilitatorAuthorization.
	FacilitatorAuthorizationProvider http.AuthorizationProvider

	// Version is the protocol generation of issued challenges. Defaults
	// to x402.V2. Payments of either generation are accepted.
	Version x402.Version

	// VerifyOnly skips settlement when true (useful for testing).
	VerifyOnly bool

	// Timeouts bounds facilitator calls. The zero value selects
	// x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig

	// Logger receives handler events. Defaults to slog.Default().
	Logger *slog.Logger

	// OnSettlement observes settlement outcomes.
	OnSettlement x402.PaymentCallback

	// PaymentTools maps tool names to their accepted payment options.
	PaymentTools map[string][]x402.PaymentRequirement
}

// DefaultConfig returns a Config with default settings.
func DefaultConfig() *Config {
	return &Config{
		PaymentTools: make(map[string][]x402.PaymentRequirement),
	}
}

// AddPaymentTool registers payment requirements for a tool.
func (c *Config) AddPaymentTool(toolName string, requirements ...x402.PaymentRequirement) {
	if c.PaymentTools == nil {
		c.PaymentTools = make(map[string][]x402.PaymentRequirement)
	}
	c.PaymentTools[toolName] = requirements
}

// RequiresPayment reports whether a tool is payment gated.
func (c *Config) RequiresPayment(toolName string) bool {
	return len(c.PaymentTools[toolName]) > 0
}

// challengeVersion returns the generation issued in challenges.
func (c *Config) challengeVersion() x402.Version {
	if c.Version.Valid() {
		return c.Version
	}
	return x402.V2
}

// requirementsFor returns a copy of the tool's payment options with the
// canonical tool resource stamped in.
func (c *Config) requirementsFor(toolName string) ([]x402.PaymentRequirement, bool) {
	requirements := c.PaymentTools[toolName]
	if len(requirements) == 0 {
		return nil, false
	}

	stamped := make([]x402.PaymentRequirement, len(requirements))
	copy(stamped, requirements)
	for i := range stamped {
		if stamped[i].Resource == "" {
			stamped[i].Resource = mcp.ToolResource(toolName)
		}
	}
	return stamped, true
}
