package siwx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402labs/x402-go"
)

// testPrivateKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// testAddress is the address derived from testPrivateKey.
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func fixedPayload() Payload {
	return Payload{
		Domain:         "example.com",
		Address:        testAddress,
		ResourceURI:    "https://example.com/api/data",
		Nonce:          "abc123",
		IssuedAt:       "2026-01-02T15:04:05Z",
		ExpirationTime: "2026-01-02T16:04:05Z",
		ChainID:        8453,
		Statement:      "Access the data API",
	}
}

func TestMessage(t *testing.T) {
	t.Run("begins with domain sign-in line", func(t *testing.T) {
		msg := fixedPayload().Message()
		if !strings.HasPrefix(msg, "example.com wants you to sign in") {
			t.Errorf("Expected message to begin with sign-in line, got %q", msg)
		}
	})

	t.Run("deterministic for fixed fields", func(t *testing.T) {
		first := fixedPayload().Message()
		second := fixedPayload().Message()
		if first != second {
			t.Error("Expected identical messages for identical payloads")
		}
	})

	t.Run("contains every bound field", func(t *testing.T) {
		msg := fixedPayload().Message()
		for _, want := range []string{
			testAddress,
			"URI: https://example.com/api/data",
			"Chain ID: 8453",
			"Nonce: abc123",
			"Issued At: 2026-01-02T15:04:05Z",
			"Expiration Time: 2026-01-02T16:04:05Z",
			"Access the data API",
		} {
			if !strings.Contains(msg, want) {
				t.Errorf("Expected message to contain %q:\n%s", want, msg)
			}
		}
	})

	t.Run("nonce changes the message", func(t *testing.T) {
		other := fixedPayload()
		other.Nonce = "different"
		if fixedPayload().Message() == other.Message() {
			t.Error("Expected different nonces to produce different messages")
		}
	})

	t.Run("omits optional fields when empty", func(t *testing.T) {
		p := fixedPayload()
		p.Statement = ""
		p.ExpirationTime = ""
		p.ChainID = 0
		msg := p.Message()
		if strings.Contains(msg, "Expiration Time:") {
			t.Error("Expected no expiration line for empty expiration")
		}
		if strings.Contains(msg, "Chain ID:") {
			t.Error("Expected no chain line for zero chain ID")
		}
	})
}

func TestFrameParse(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		framed, err := Frame(fixedPayload(), "0xdeadbeef")
		if err != nil {
			t.Fatalf("Failed to frame: %v", err)
		}
		if !strings.HasPrefix(framed, "siwx-v1-") {
			t.Errorf("Expected siwx-v1- prefix, got %q", framed)
		}

		payload, signature, err := Parse(framed)
		if err != nil {
			t.Fatalf("Failed to parse: %v", err)
		}
		if payload != fixedPayload() {
			t.Errorf("Round trip changed payload: got %+v", payload)
		}
		if signature != "0xdeadbeef" {
			t.Errorf("Expected signature 0xdeadbeef, got %q", signature)
		}
	})

	t.Run("rejects missing prefix", func(t *testing.T) {
		if _, _, err := Parse("eyJmb28iOiJiYXIifQ"); !errors.Is(err, x402.ErrInvalidExtension) {
			t.Errorf("Expected ErrInvalidExtension, got %v", err)
		}
	})

	t.Run("rejects malformed base64", func(t *testing.T) {
		if _, _, err := Parse("siwx-v1-!!!"); !errors.Is(err, x402.ErrInvalidExtension) {
			t.Errorf("Expected ErrInvalidExtension, got %v", err)
		}
	})
}

func TestHookApply(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse test key: %v", err)
	}

	newPayment := func(info map[string]interface{}) *x402.PaymentPayload {
		return &x402.PaymentPayload{
			X402Version: 2,
			Extensions: map[string]x402.Extension{
				Key: {Info: info},
			},
		}
	}

	t.Run("signs and attaches artifact", func(t *testing.T) {
		hook := NewHook(testAddress, PrivateKeySigner(key))
		payment := newPayment(map[string]interface{}{
			"domain":            "example.com",
			"resourceUri":       "https://example.com/api/data",
			"network":           "eip155:8453",
			"nonce":             "abc123",
			"expirationSeconds": 300,
		})

		if err := hook.Apply(context.Background(), payment); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		framed, ok := Artifact(payment)
		if !ok {
			t.Fatal("Expected artifact in extensions map")
		}

		payload, _, err := Parse(framed)
		if err != nil {
			t.Fatalf("Failed to parse artifact: %v", err)
		}
		if payload.Domain != "example.com" {
			t.Errorf("Expected domain example.com, got %q", payload.Domain)
		}
		if payload.Address != testAddress {
			t.Errorf("Expected address %s, got %q", testAddress, payload.Address)
		}
		if payload.Nonce != "abc123" {
			t.Errorf("Expected server nonce abc123, got %q", payload.Nonce)
		}
		if payload.ChainID != 8453 {
			t.Errorf("Expected chain ID 8453, got %d", payload.ChainID)
		}
		if payload.ExpirationTime == "" {
			t.Error("Expected expiration time to be set")
		}

		validator := &Validator{}
		signer, err := validator.Validate(framed, "https://example.com/api/data")
		if err != nil {
			t.Fatalf("Expected hook output to validate: %v", err)
		}
		if !strings.EqualFold(signer, testAddress) {
			t.Errorf("Expected recovered signer %s, got %s", testAddress, signer)
		}
	})

	t.Run("generates nonce when server issues none", func(t *testing.T) {
		hook := NewHook(testAddress, PrivateKeySigner(key))
		payment := newPayment(map[string]interface{}{
			"domain":      "example.com",
			"resourceUri": "https://example.com/api/data",
		})

		if err := hook.Apply(context.Background(), payment); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		framed, _ := Artifact(payment)
		payload, _, err := Parse(framed)
		if err != nil {
			t.Fatalf("Failed to parse artifact: %v", err)
		}
		if payload.Nonce == "" {
			t.Error("Expected generated nonce")
		}
	})

	t.Run("rejects declaration without domain", func(t *testing.T) {
		hook := NewHook(testAddress, PrivateKeySigner(key))
		payment := newPayment(map[string]interface{}{
			"resourceUri": "https://example.com/api/data",
		})

		if err := hook.Apply(context.Background(), payment); !errors.Is(err, x402.ErrInvalidExtension) {
			t.Errorf("Expected ErrInvalidExtension, got %v", err)
		}
	})
}

func TestValidatorValidate(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse test key: %v", err)
	}
	sign := PrivateKeySigner(key)

	// signedArtifact frames payload with a real signature over its message.
	signedArtifact := func(t *testing.T, payload Payload) string {
		t.Helper()
		sig, err := sign([]byte(payload.Message()))
		if err != nil {
			t.Fatalf("Failed to sign: %v", err)
		}
		framed, err := Frame(payload, hexutil.Encode(sig))
		if err != nil {
			t.Fatalf("Failed to frame: %v", err)
		}
		return framed
	}

	now := time.Date(2026, 1, 2, 15, 30, 0, 0, time.UTC)
	fixedNow := func() time.Time { return now }

	basePayload := func() Payload {
		return Payload{
			Domain:         "example.com",
			Address:        testAddress,
			ResourceURI:    "https://example.com/api/data",
			Nonce:          "abc123",
			IssuedAt:       now.Add(-time.Minute).Format(time.RFC3339),
			ExpirationTime: now.Add(time.Hour).Format(time.RFC3339),
		}
	}

	t.Run("valid artifact recovers signer", func(t *testing.T) {
		v := &Validator{Now: fixedNow}
		signer, err := v.Validate(signedArtifact(t, basePayload()), "https://example.com/api/data")
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if !strings.EqualFold(signer, testAddress) {
			t.Errorf("Expected signer %s, got %s", testAddress, signer)
		}
	})

	t.Run("missing domain", func(t *testing.T) {
		p := basePayload()
		p.Domain = ""
		v := &Validator{Now: fixedNow}
		assertValidationField(t, v, signedArtifact(t, p), "siwx.domain")
	})

	t.Run("domain pin mismatch", func(t *testing.T) {
		v := &Validator{Domain: "other.com", Now: fixedNow}
		assertValidationField(t, v, signedArtifact(t, basePayload()), "siwx.domain")
	})

	t.Run("malformed address", func(t *testing.T) {
		p := basePayload()
		p.Address = "not-an-address"
		v := &Validator{Now: fixedNow}
		assertValidationField(t, v, signedArtifact(t, p), "siwx.address")
	})

	t.Run("resource mismatch", func(t *testing.T) {
		v := &Validator{Now: fixedNow}
		_, err := v.Validate(signedArtifact(t, basePayload()), "https://example.com/other")
		assertValidationError(t, err, "siwx.resourceUri")
	})

	t.Run("expired artifact", func(t *testing.T) {
		p := basePayload()
		p.ExpirationTime = now.Add(-time.Minute).Format(time.RFC3339)
		v := &Validator{Now: fixedNow}
		assertValidationField(t, v, signedArtifact(t, p), "siwx.expirationTime")
	})

	t.Run("too old for max age", func(t *testing.T) {
		p := basePayload()
		p.IssuedAt = now.Add(-time.Hour).Format(time.RFC3339)
		v := &Validator{MaxAge: 10 * time.Minute, Now: fixedNow}
		assertValidationField(t, v, signedArtifact(t, p), "siwx.issuedAt")
	})

	t.Run("replayed nonce", func(t *testing.T) {
		v := &Validator{
			Now:       fixedNow,
			NonceUsed: func(nonce string) bool { return nonce == "abc123" },
		}
		assertValidationField(t, v, signedArtifact(t, basePayload()), "siwx.nonce")
	})

	t.Run("signer mismatch", func(t *testing.T) {
		p := basePayload()
		p.Address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
		v := &Validator{Now: fixedNow}
		_, err := v.Validate(signedArtifact(t, p), "https://example.com/api/data")
		if !errors.Is(err, x402.ErrInvalidSignature) {
			t.Errorf("Expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("tampered message", func(t *testing.T) {
		p := basePayload()
		framed := signedArtifact(t, p)
		payload, signature, err := Parse(framed)
		if err != nil {
			t.Fatalf("Failed to parse: %v", err)
		}
		payload.Nonce = "tampered"
		reframed, err := Frame(payload, signature)
		if err != nil {
			t.Fatalf("Failed to reframe: %v", err)
		}

		v := &Validator{Now: fixedNow}
		if _, err := v.Validate(reframed, "https://example.com/api/data"); err == nil {
			t.Error("Expected tampered artifact to fail validation")
		}
	})
}

func assertValidationField(t *testing.T, v *Validator, framed, field string) {
	t.Helper()
	_, err := v.Validate(framed, "https://example.com/api/data")
	assertValidationError(t, err, field)
}

func assertValidationError(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	var valErr *x402.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if valErr.Field != field {
		t.Errorf("Expected field %q, got %q", field, valErr.Field)
	}
}
