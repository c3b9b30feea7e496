// Package extensions implements the x402 extension negotiation framework.
//
// An extension is a named side channel on the V2 envelopes: a server
// declares {info, schema} under a well-known key on its challenge, a
// client answers by attaching an artifact under the same key on its
// payment payload. The concrete extensions live in subpackages (siwx,
// paymentid, bazaar); this package holds the shared declare/extract/
// validate contract and the client-side hook runner.
package extensions

import (
	"context"
	"fmt"
	"sort"

	"github.com/x402labs/x402-go"
)

// Declare builds a single-entry extensions map for inclusion in a
// challenge. Merge combines entries from several extensions.
func Declare(key string, info, schema map[string]interface{}) map[string]x402.Extension {
	return map[string]x402.Extension{
		key: {Info: info, Schema: schema},
	}
}

// Merge combines declaration maps into one. Later maps win on key
// collisions.
func Merge(declarations ...map[string]x402.Extension) map[string]x402.Extension {
	merged := make(map[string]x402.Extension)
	for _, decl := range declarations {
		for key, ext := range decl {
			merged[key] = ext
		}
	}
	return merged
}

// Extract returns the extension stored under key, if any.
func Extract(extensions map[string]x402.Extension, key string) (x402.Extension, bool) {
	ext, ok := extensions[key]
	return ext, ok
}

// Validate checks an extension against the structural contract: info must
// be present, and the schema, when present, must describe an object.
// Extension-specific semantics are validated by the extension's own
// package.
func Validate(ext x402.Extension) error {
	if ext.Info == nil {
		return fmt.Errorf("%w: missing info", x402.ErrInvalidExtension)
	}
	if ext.Schema != nil {
		if t, ok := ext.Schema["type"].(string); ok && t != "object" {
			return fmt.Errorf("%w: schema type %q, want object", x402.ErrInvalidExtension, t)
		}
	}
	return nil
}

// Hook is the client side of an extension: given a signed payment whose
// extensions map carries the server's declaration under Key, it replaces
// the declaration with the client's artifact.
type Hook interface {
	// Key is the well-known extension identifier this hook answers.
	Key() string

	// Priority orders hook execution; higher runs first.
	Priority() int

	// Apply mutates the payment in place. The server's declaration is at
	// payment.Extensions[Key()] when Apply runs.
	Apply(ctx context.Context, payment *x402.PaymentPayload) error
}

// ApplyHooks runs each hook whose key the payment's extensions map
// declares, highest priority first. Hooks run strictly sequentially and
// share the payment's extensions map; a hook whose key the server did not
// declare is skipped. The first error aborts the run.
func ApplyHooks(ctx context.Context, hooks []Hook, payment *x402.PaymentPayload) error {
	if len(hooks) == 0 || len(payment.Extensions) == 0 {
		return nil
	}

	ordered := make([]Hook, len(hooks))
	copy(ordered, hooks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})

	for _, hook := range ordered {
		if _, declared := payment.Extensions[hook.Key()]; !declared {
			continue
		}
		if err := hook.Apply(ctx, payment); err != nil {
			return fmt.Errorf("extension %s: %w", hook.Key(), err)
		}
	}
	return nil
}
