package engine

import (
	"sync"

	"github.com/google/uuid"
)

// SessionIDGenerator names relay sessions. Every connection attempt gets
// a fresh ID that is attached to its log lines.
type SessionIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session IDs, so log lines
// from successive sessions sort in connection order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns predetermined session IDs for tests. Once the
// list is exhausted the last ID repeats.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewSequenceGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewSequenceGenerator("session-1", "session-2")
//	gen.Generate() // "session-1"
//	gen.Generate() // "session-2"
//	gen.Generate() // "session-2"
func NewSequenceGenerator(ids ...string) *SequenceGenerator {
	if len(ids) == 0 {
		ids = []string{"session"}
	}
	return &SequenceGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.ids[g.idx]
	if g.idx < len(g.ids)-1 {
		g.idx++
	}
	return id
}
