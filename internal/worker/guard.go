package worker

import "sync"

type guardKey struct {
	tenantID  string
	localDate string
}

// MemoryGuard remembers which (tenant, local date) digests this process has
// already fired. It is created at startup, owned by the DigestPoller and
// cleared on shutdown.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[guardKey]struct{}
}

// NewMemoryGuard returns an empty guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[guardKey]struct{})}
}

// TryAdd records the pair and reports whether it was new.
func (g *MemoryGuard) TryAdd(tenantID, localDate string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := guardKey{tenantID, localDate}
	if _, ok := g.seen[k]; ok {
		return false
	}
	g.seen[k] = struct{}{}
	return true
}

// Prune drops entries whose local date sorts before the given "YYYY-MM-DD".
func (g *MemoryGuard) Prune(before string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for k := range g.seen {
		if k.localDate < before {
			delete(g.seen, k)
			n++
		}
	}
	return n
}

// Len reports how many (tenant, date) pairs are held.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Reset forgets every entry.
func (g *MemoryGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[guardKey]struct{})
}
