package api

import (
	"context"
	"sync"
	"time"
)

// Route names a rate-limit budget class.
type Route string

const (
	RouteExtract Route = "extract"
	RouteServe   Route = "serve"
	RouteDefault Route = "default"
)

// Budget allows at most Requests requests in any span of Window.
type Budget struct {
	Requests int
	Window   time.Duration
}

func (b Budget) valid() bool {
	return b.Requests > 0 && b.Window > 0
}

type gateKey struct {
	client string
	route  Route
}

// gateEntry is a sliding log of the admitted requests still inside the
// window, oldest first. It never holds more than Budget.Requests stamps.
type gateEntry struct {
	hits     []time.Time
	lastSeen time.Time
}

// expire drops stamps that have left the window ending at now.
func (e *gateEntry) expire(now time.Time, window time.Duration) {
	n := 0
	for n < len(e.hits) && now.Sub(e.hits[n]) >= window {
		n++
	}
	if n > 0 {
		e.hits = append(e.hits[:0], e.hits[n:]...)
	}
}

// Gate keeps one sliding window per (client, route) pair. It only decides;
// enforcement is left to the caller.
type Gate struct {
	mu       sync.Mutex
	budgets  map[Route]Budget
	fallback Budget
	entries  map[gateKey]*gateEntry
	now      func() time.Time
}

// NewGate creates a gate with per-route budgets. Routes without a budget use
// fallback. A budget with no requests or no window never limits.
func NewGate(budgets map[Route]Budget, fallback Budget) *Gate {
	b := make(map[Route]Budget, len(budgets))
	for r, budget := range budgets {
		b[r] = budget
	}
	return &Gate{
		budgets:  b,
		fallback: fallback,
		entries:  make(map[gateKey]*gateEntry),
		now:      time.Now,
	}
}

func (g *Gate) budget(route Route) Budget {
	if b, ok := g.budgets[route]; ok {
		return b
	}
	return g.fallback
}

// Allow reports whether clientKey may make one more request on route, and
// counts the request if so.
func (g *Gate) Allow(clientKey string, route Route) bool {
	ok, _ := g.Check(clientKey, route)
	return ok
}

// Check is Allow that also reports, for a rejected request, how long until
// the oldest counted request leaves the window.
func (g *Gate) Check(clientKey string, route Route) (bool, time.Duration) {
	b := g.budget(route)
	if !b.valid() {
		return true, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	k := gateKey{client: clientKey, route: route}
	e, ok := g.entries[k]
	if !ok {
		e = &gateEntry{}
		g.entries[k] = e
	}
	e.lastSeen = now
	e.expire(now, b.Window)

	if len(e.hits) >= b.Requests {
		return false, e.hits[0].Add(b.Window).Sub(now)
	}
	e.hits = append(e.hits, now)
	return true, 0
}

// Len returns the number of tracked (client, route) pairs.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Prune forgets pairs not seen for maxIdle. A forgotten pair starts again
// with an empty window, so maxIdle should be at least the longest window.
// Returns the number of pairs removed.
func (g *Gate) Prune(maxIdle time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-maxIdle)
	removed := 0
	for k, e := range g.entries {
		if e.lastSeen.Before(cutoff) {
			delete(g.entries, k)
			removed++
		}
	}
	return removed
}

// MaxWindow returns the longest window across all budgets.
func (g *Gate) MaxWindow() time.Duration {
	longest := g.fallback.Window
	for _, b := range g.budgets {
		if b.Window > longest {
			longest = b.Window
		}
	}
	return longest
}

// Run prunes idle pairs every interval until ctx is done.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Prune(2 * g.MaxWindow())
		}
	}
}
