package facilitator

import (
	"context"
	"sync"
	"time"

	"github.com/x402labs/x402-go"
)

// DefaultCapabilityTTL is how long a facilitator's advertised
// capabilities are trusted before being re-fetched.
const DefaultCapabilityTTL = 5 * time.Minute

// capabilityCacheLimit bounds the cache; one entry per
// (facilitator, network) pair seen, so the limit is generous.
const capabilityCacheLimit = 256

// SupportedFunc fetches a facilitator's capability listing. The remote
// client's Supported method satisfies it.
type SupportedFunc func(ctx context.Context) (*x402.SupportedResponse, error)

// CapabilityCache is a read-through TTL cache of the extension keys each
// facilitator recognizes per network. Challenges consult it so a server
// never advertises an extension its facilitator would reject. Concurrent
// misses for the same key may fetch more than once; the last write wins.
type CapabilityCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[capabilityKey]capabilityEntry
}

type capabilityKey struct {
	url     string
	network string
}

type capabilityEntry struct {
	extensions []string
	fetchedAt  time.Time
}

// NewCapabilityCache creates a cache. A non-positive ttl selects
// DefaultCapabilityTTL.
func NewCapabilityCache(ttl time.Duration) *CapabilityCache {
	if ttl <= 0 {
		ttl = DefaultCapabilityTTL
	}
	return &CapabilityCache{
		ttl:     ttl,
		entries: make(map[capabilityKey]capabilityEntry),
	}
}

// Extensions returns the extension keys the facilitator at url recognizes
// for network, fetching through supported on a miss or an expired entry.
// A facilitator that does not list the network at all recognizes no
// extensions for it.
func (c *CapabilityCache) Extensions(ctx context.Context, url, network string, supported SupportedFunc) ([]string, error) {
	key := capabilityKey{url: url, network: canonicalNetwork(network)}

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.extensions, nil
	}

	resp, err := supported(ctx)
	if err != nil {
		// A stale answer beats no answer while the facilitator recovers.
		if ok {
			return entry.extensions, nil
		}
		return nil, err
	}

	extensions := extensionsForNetwork(resp, network)

	c.mu.Lock()
	if len(c.entries) >= capabilityCacheLimit {
		c.evictLocked()
	}
	c.entries[key] = capabilityEntry{extensions: extensions, fetchedAt: time.Now()}
	c.mu.Unlock()

	return extensions, nil
}

// Filter narrows an advertised extension list to the keys the
// facilitator recognizes, preserving the advertised order.
func Filter(advertised, recognized []string) []string {
	if len(advertised) == 0 || len(recognized) == 0 {
		return nil
	}
	known := make(map[string]bool, len(recognized))
	for _, key := range recognized {
		known[key] = true
	}
	var out []string
	for _, key := range advertised {
		if known[key] {
			out = append(out, key)
		}
	}
	return out
}

// extensionsForNetwork gates the global extension list on the
// facilitator actually serving the network.
func extensionsForNetwork(resp *x402.SupportedResponse, network string) []string {
	for _, kind := range resp.Kinds {
		if x402.NetworksEqual(kind.Network, network) {
			return resp.Extensions
		}
	}
	return nil
}

// evictLocked makes room: expired entries first, then an arbitrary one.
// Callers must hold c.mu.
func (c *CapabilityCache) evictLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.fetchedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < capabilityCacheLimit {
		return
	}
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
