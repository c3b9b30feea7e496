// Package paymentid implements the payment-identifier extension: an
// idempotency token the client attaches to its payment so a server can
// deduplicate retried requests.
package paymentid

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/extensions"
)

// Key is the well-known extension identifier.
const Key = "payment-identifier"

// Token length bounds.
const (
	MinLength = 3
	MaxLength = 128
)

// generatedLength is the length of client-generated tokens.
const generatedLength = 32

// alphabet is the allowed token character class.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789_-"

// Declare builds the challenge-side extensions entry. Required tells the
// client it must attach a token, generating one if it has none.
func Declare(required bool) map[string]x402.Extension {
	return extensions.Declare(Key, map[string]interface{}{
		"required": required,
	}, schema())
}

// schema returns the JSON Schema for the token info.
func schema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"pattern":     "^[a-z0-9_-]{3,128}$",
				"description": "Client-chosen idempotency token.",
			},
			"required": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether the server insists on a token.",
			},
		},
	}
}

// Generate produces a fresh 32-character token from the allowed class.
func Generate() (string, error) {
	raw := make([]byte, generatedLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate payment identifier: %w", err)
	}
	for i, b := range raw {
		raw[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(raw), nil
}

// Validate checks a token against the length bounds and character class.
func Validate(token string) error {
	if len(token) < MinLength || len(token) > MaxLength {
		return fmt.Errorf("%w: payment identifier length %d, want %d-%d", x402.ErrInvalidExtension, len(token), MinLength, MaxLength)
	}
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return fmt.Errorf("%w: payment identifier contains %q", x402.ErrInvalidExtension, c)
		}
	}
	return nil
}

// Attach builds the payload-side extensions entry carrying a token.
func Attach(token string) x402.Extension {
	return x402.Extension{Info: map[string]interface{}{"id": token}}
}

// Extract returns the validated token from a payment's extensions map.
// When the server marked the extension required, a missing or invalid
// token is an error; otherwise absence returns ("", nil).
func Extract(payment *x402.PaymentPayload, required bool) (string, error) {
	ext, ok := payment.Extensions[Key]
	if !ok || ext.Info == nil {
		if required {
			return "", fmt.Errorf("%w: payment identifier required but missing", x402.ErrInvalidExtension)
		}
		return "", nil
	}
	token, _ := ext.Info["id"].(string)
	if token == "" {
		if required {
			return "", fmt.Errorf("%w: payment identifier required but missing", x402.ErrInvalidExtension)
		}
		return "", nil
	}
	if err := Validate(token); err != nil {
		return "", err
	}
	return token, nil
}

// Hook answers payment-identifier declarations on outgoing payments. A
// preset token is reused across retries; otherwise each payment gets a
// fresh generated token.
type Hook struct {
	token    string
	priority int
}

// NewHook creates a client hook that generates a token per payment.
func NewHook() *Hook {
	return &Hook{priority: 50}
}

// NewHookWithToken creates a client hook that always attaches token.
func NewHookWithToken(token string) (*Hook, error) {
	if err := Validate(token); err != nil {
		return nil, err
	}
	return &Hook{token: token, priority: 50}, nil
}

// Key implements extensions.Hook.
func (h *Hook) Key() string { return Key }

// Priority implements extensions.Hook. Identifier attachment runs after
// sign-in so the token can cover the final payload.
func (h *Hook) Priority() int { return h.priority }

// Apply implements extensions.Hook.
func (h *Hook) Apply(ctx context.Context, payment *x402.PaymentPayload) error {
	token := h.token
	if token == "" {
		generated, err := Generate()
		if err != nil {
			return err
		}
		token = generated
	}
	payment.Extensions[Key] = Attach(token)
	return nil
}
