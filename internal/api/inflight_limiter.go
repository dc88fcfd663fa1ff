package api

import (
	"sync"
)

// InflightLimiter caps the number of extractions a single client may have
// running at once. Extractions take seconds to minutes, so a request budget
// alone does not stop one client from tying up many workers.
type InflightLimiter struct {
	mu          sync.Mutex
	maxInflight int
	byClient    map[string]int
}

// NewInflightLimiter creates a limiter allowing maxInflight concurrent
// extractions per client. A non-positive maxInflight disables the limit.
func NewInflightLimiter(maxInflight int) *InflightLimiter {
	return &InflightLimiter{
		maxInflight: maxInflight,
		byClient:    make(map[string]int),
	}
}

// Acquire reserves a slot for client. It returns false when the client is
// already at the limit. Every successful Acquire must be paired with Release.
func (l *InflightLimiter) Acquire(client string) bool {
	if l.maxInflight <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.byClient[client] >= l.maxInflight {
		return false
	}
	l.byClient[client]++
	return true
}

// Release frees a slot previously reserved for client.
func (l *InflightLimiter) Release(client string) {
	if l.maxInflight <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.byClient[client] - 1
	if n <= 0 {
		delete(l.byClient, client) // Keep the map bounded by active clients
		return
	}
	l.byClient[client] = n
}

// Inflight returns the number of running extractions for client.
func (l *InflightLimiter) Inflight(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byClient[client]
}

// MaxInflight returns the configured per-client limit.
func (l *InflightLimiter) MaxInflight() int {
	return l.maxInflight
}
