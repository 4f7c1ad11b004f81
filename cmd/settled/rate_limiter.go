// rate_limiter.go - Per-peer request budgets for the settlement daemon.
//
// Reads and submissions drain one shared bucket per peer, but at different
// costs: accepting a proven transaction means proof verification and a pool
// insert, so a submission burns several tokens where a read burns one. Peers
// that go quiet are pruned so the bucket map does not grow with every
// address that ever connected.

package main

import (
	"sync"
	"time"
)

// Request costs, in tokens.
const (
	readCost   = 1
	submitCost = 4
)

// tokenBucket refills continuously at perSecond up to burst.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
}

// PeerRateLimiter hands every peer address its own token bucket.
type PeerRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	perSecond float64
	burst     float64
}

// NewPeerRateLimiter creates a limiter refilling perSecond tokens up to a
// burst ceiling per peer.
func NewPeerRateLimiter(perSecond, burst int) *PeerRateLimiter {
	if burst < perSecond {
		burst = perSecond
	}
	return &PeerRateLimiter{
		buckets:   make(map[string]*tokenBucket),
		perSecond: float64(perSecond),
		burst:     float64(burst),
	}
}

// Allow charges cost tokens to the peer's bucket, reporting whether the
// budget covered it.
func (prl *PeerRateLimiter) Allow(peer string, cost int) bool {
	now := time.Now()

	prl.mu.Lock()
	defer prl.mu.Unlock()

	b, ok := prl.buckets[peer]
	if !ok {
		b = &tokenBucket{tokens: prl.burst, lastRefill: now}
		prl.buckets[peer] = b
	}

	b.tokens += now.Sub(b.lastRefill).Seconds() * prl.perSecond
	if b.tokens > prl.burst {
		b.tokens = prl.burst
	}
	b.lastRefill = now
	b.lastUsed = now

	if b.tokens < float64(cost) {
		return false
	}
	b.tokens -= float64(cost)
	return true
}

// Prune drops buckets idle for longer than the given duration and returns
// how many were removed. An evicted peer simply starts over with a full
// bucket on its next request.
func (prl *PeerRateLimiter) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	prl.mu.Lock()
	defer prl.mu.Unlock()

	removed := 0
	for peer, b := range prl.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(prl.buckets, peer)
			removed++
		}
	}
	return removed
}

// PeerCount returns the number of tracked peers.
func (prl *PeerRateLimiter) PeerCount() int {
	prl.mu.Lock()
	defer prl.mu.Unlock()
	return len(prl.buckets)
}
