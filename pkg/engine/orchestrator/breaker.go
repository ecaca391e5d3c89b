package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// Breaker is the process-wide maintenance flag. It trips when every provider
// fails a role call and stays tripped until an operator (or health probe)
// explicitly clears it; a single later success never clears it, which keeps
// the engine from flapping in and out of maintenance.
type Breaker struct {
	tripped atomic.Bool

	mu        sync.Mutex
	reason    string
	trippedAt time.Time
}

// NewBreaker creates an untripped breaker.
func NewBreaker() *Breaker {
	return &Breaker{}
}

// Trip sets the flag. Returns true if this call did the tripping, false if
// it was already set.
func (b *Breaker) Trip(reason string) bool {
	if !b.tripped.CompareAndSwap(false, true) {
		return false
	}
	b.mu.Lock()
	b.reason = reason
	b.trippedAt = time.Now().UTC()
	b.mu.Unlock()
	return true
}

// Clear resets the flag. Only operators and health probes call this.
func (b *Breaker) Clear() {
	b.tripped.Store(false)
	b.mu.Lock()
	b.reason = ""
	b.trippedAt = time.Time{}
	b.mu.Unlock()
}

// Tripped reports whether the engine is in maintenance mode.
func (b *Breaker) Tripped() bool {
	return b.tripped.Load()
}

// Status returns the flag plus why and when it tripped.
func (b *Breaker) Status() (tripped bool, reason string, at time.Time) {
	tripped = b.tripped.Load()
	b.mu.Lock()
	reason, at = b.reason, b.trippedAt
	b.mu.Unlock()
	return tripped, reason, at
}
