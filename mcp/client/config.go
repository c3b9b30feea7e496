package client

import (
	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/extensions"
)

// Config holds configuration for the x402-enabled MCP transport.
type Config struct {
	// ServerURL is the MCP server endpoint.
	ServerURL string

	// Signers is the list of payment signers in priority order.
	Signers []x402.Signer

	// Selector chooses the signer and requirement for a challenge.
	// Defaults to x402.DefaultPaymentSelector.
	Selector x402.PaymentSelector

	// Hooks answer extension declarations on V2 challenges before the
	// payment is attached to the retried tool call.
	Hooks []extensions.Hook

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment succeeds.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback
}

// Option is a functional option for configuring the Transport.
type Option func(*Config)

// WithSigner adds a payment signer. Signers are tried in the order they
// are added, after priority sorting.
func WithSigner(signer x402.Signer) Option {
	return func(c *Config) {
		c.Signers = append(c.Signers, signer)
	}
}

// WithSelector sets a custom payment selector.
func WithSelector(selector x402.PaymentSelector) Option {
	return func(c *Config) {
		c.Selector = selector
	}
}

// WithHook adds an extension hook answering one well-known extension key
// on outgoing payments.
func WithHook(hook extensions.Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hook)
	}
}

// WithPaymentCallback sets one callback for attempt, success and failure
// events alike.
func WithPaymentCallback(callback x402.PaymentCallback) Option {
	return func(c *Config) {
		c.OnPaymentAttempt = callback
		c.OnPaymentSuccess = callback
		c.OnPaymentFailure = callback
	}
}

// WithPaymentAttemptCallback sets the payment attempt callback.
func WithPaymentAttemptCallback(callback x402.PaymentCallback) Option {
	return func(c *Config) {
		c.OnPaymentAttempt = callback
	}
}

// WithPaymentSuccessCallback sets the payment success callback.
func WithPaymentSuccessCallback(callback x402.PaymentCallback) Option {
	return func(c *Config) {
		c.OnPaymentSuccess = callback
	}
}

// WithPaymentFailureCallback sets the payment failure callback.
func WithPaymentFailureCallback(callback x402.PaymentCallback) Option {
	return func(c *Config) {
		c.OnPaymentFailure = callback
	}
}

// DefaultConfig returns a Config with default settings.
func DefaultConfig(serverURL string) *Config {
	return &Config{
		ServerURL: serverURL,
		Selector:  x402.NewDefaultPaymentSelector(),
	}
}
