package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predetermined ids, then falls back to a
// numbered sequence ("<prefix>-1", "<prefix>-2", ...) once they run out.
//
// This keeps connection and participant ids stable across test runs.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator that yields ids in order.
// If prefix is empty, generated fallbacks use "id".
func NewFixedIDGenerator(prefix string, ids ...string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &FixedIDGenerator{ids: ids, prefix: prefix}
}

// Generate returns the next id.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n-len(g.ids))
}
