package paymentid

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/x402labs/x402-go"
)

func TestGenerate(t *testing.T) {
	t.Run("generates 32-character tokens", func(t *testing.T) {
		token, err := Generate()
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}
		if len(token) != 32 {
			t.Errorf("Expected 32 characters, got %d", len(token))
		}
		if err := Validate(token); err != nil {
			t.Errorf("Generated token failed validation: %v", err)
		}
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := Generate()
			if err != nil {
				t.Fatalf("Failed to generate token: %v", err)
			}
			if seen[token] {
				t.Errorf("Duplicate token generated: %s", token)
			}
			seen[token] = true
		}
	})

	t.Run("stays in the character class", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			token, err := Generate()
			if err != nil {
				t.Fatalf("Failed to generate token: %v", err)
			}
			for _, c := range token {
				if !strings.ContainsRune(alphabet, c) {
					t.Errorf("Token %q contains %q outside class", token, c)
				}
			}
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid short", token: "abc"},
		{name: "valid with class chars", token: "pay_2026-01-02_a1b2"},
		{name: "valid max length", token: strings.Repeat("a", 128)},
		{name: "too short", token: "ab", wantErr: true},
		{name: "too long", token: strings.Repeat("a", 129), wantErr: true},
		{name: "uppercase rejected", token: "ABC123", wantErr: true},
		{name: "space rejected", token: "abc 123", wantErr: true},
		{name: "empty rejected", token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.token)
			if tt.wantErr {
				if !errors.Is(err, x402.ErrInvalidExtension) {
					t.Errorf("Expected ErrInvalidExtension, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	paymentWith := func(info map[string]interface{}) *x402.PaymentPayload {
		p := &x402.PaymentPayload{X402Version: 2}
		if info != nil {
			p.Extensions = map[string]x402.Extension{Key: {Info: info}}
		}
		return p
	}

	t.Run("returns attached token", func(t *testing.T) {
		token, err := Extract(paymentWith(map[string]interface{}{"id": "abc123"}), true)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if token != "abc123" {
			t.Errorf("Expected abc123, got %q", token)
		}
	})

	t.Run("required and missing", func(t *testing.T) {
		if _, err := Extract(paymentWith(nil), true); !errors.Is(err, x402.ErrInvalidExtension) {
			t.Errorf("Expected ErrInvalidExtension, got %v", err)
		}
	})

	t.Run("optional and missing", func(t *testing.T) {
		token, err := Extract(paymentWith(nil), false)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if token != "" {
			t.Errorf("Expected empty token, got %q", token)
		}
	})

	t.Run("invalid token rejected even when optional", func(t *testing.T) {
		if _, err := Extract(paymentWith(map[string]interface{}{"id": "AB"}), false); !errors.Is(err, x402.ErrInvalidExtension) {
			t.Errorf("Expected ErrInvalidExtension, got %v", err)
		}
	})
}

func TestHookApply(t *testing.T) {
	declared := func() *x402.PaymentPayload {
		return &x402.PaymentPayload{
			X402Version: 2,
			Extensions: map[string]x402.Extension{
				Key: {Info: map[string]interface{}{"required": true}},
			},
		}
	}

	t.Run("generates a token", func(t *testing.T) {
		payment := declared()
		if err := NewHook().Apply(context.Background(), payment); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		token, err := Extract(payment, true)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(token) != 32 {
			t.Errorf("Expected 32-character token, got %q", token)
		}
	})

	t.Run("reuses preset token", func(t *testing.T) {
		hook, err := NewHookWithToken("my_preset_token")
		if err != nil {
			t.Fatalf("Failed to create hook: %v", err)
		}

		payment := declared()
		if err := hook.Apply(context.Background(), payment); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		token, err := Extract(payment, true)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if token != "my_preset_token" {
			t.Errorf("Expected my_preset_token, got %q", token)
		}
	})

	t.Run("rejects invalid preset token", func(t *testing.T) {
		if _, err := NewHookWithToken("NOT VALID"); !errors.Is(err, x402.ErrInvalidExtension) {
			t.Errorf("Expected ErrInvalidExtension, got %v", err)
		}
	})
}
