// Package nonce tracks EIP-3009 authorization nonces so a captured
// payment header cannot be settled twice through the same facilitator.
package nonce

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Key identifies a nonce. Uniqueness is scoped to (chain, asset) because
// each token contract enforces its own authorization nonce space; the
// same 32-byte nonce on two different tokens is two different
// authorizations.
type Key struct {
	ChainID uint64
	Asset   string
	Nonce   string
}

// NewKey builds a Key with the asset address and nonce lower-cased, so
// checksummed and lower-case hex spellings of the same nonce collide.
func NewKey(chainID uint64, asset, nonce string) Key {
	return Key{
		ChainID: chainID,
		Asset:   strings.ToLower(asset),
		Nonce:   strings.ToLower(nonce),
	}
}

// Tracker records which nonces have been spent. Implementations must be
// safe for concurrent use.
type Tracker interface {
	// Reserve atomically marks the nonce as used until expiresAt.
	// It reports whether the caller won the reservation: when several
	// callers race on the same key, exactly one sees true.
	Reserve(ctx context.Context, key Key, expiresAt time.Time) (bool, error)

	// Release frees a reservation, allowing the nonce to be reserved
	// again. Called when settlement fails after the nonce was reserved.
	Release(ctx context.Context, key Key) error

	// IsUsed reports whether the nonce currently holds a live
	// reservation.
	IsUsed(ctx context.Context, key Key) (bool, error)
}

// sweepInterval bounds how often the memory tracker walks its whole map
// to drop expired reservations.
const sweepInterval = time.Minute

// MemoryTracker is an in-process Tracker. Reservations expire at the
// authorization's validBefore: once that instant has passed the
// authorization can never settle on-chain, so remembering its nonce
// serves no purpose and the entry is dropped.
type MemoryTracker struct {
	mu        sync.Mutex
	entries   map[Key]time.Time
	lastSweep time.Time
}

// NewMemoryTracker creates an empty in-process nonce tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries:   make(map[Key]time.Time),
		lastSweep: time.Now(),
	}
}

// Reserve implements Tracker. A zero expiresAt never expires.
func (t *MemoryTracker) Reserve(ctx context.Context, key Key, expiresAt time.Time) (bool, error) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep(now)

	if existing, ok := t.entries[key]; ok && live(existing, now) {
		return false, nil
	}
	t.entries[key] = expiresAt
	return true, nil
}

// Release implements Tracker.
func (t *MemoryTracker) Release(ctx context.Context, key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
	return nil
}

// IsUsed implements Tracker.
func (t *MemoryTracker) IsUsed(ctx context.Context, key Key) (bool, error) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[key]
	return ok && live(existing, now), nil
}

// Len reports the number of reservations currently held, including ones
// that have expired but not yet been swept.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// sweep drops expired reservations at most once per sweepInterval.
// Callers must hold t.mu.
func (t *MemoryTracker) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < sweepInterval {
		return
	}
	t.lastSweep = now

	for key, expiresAt := range t.entries {
		if !live(expiresAt, now) {
			delete(t.entries, key)
		}
	}
}

func live(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || now.Before(expiresAt)
}
