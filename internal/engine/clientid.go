package engine

import (
	"sync"

	"github.com/google/uuid"
)

// ClientIDGenerator produces identifiers for replicas that were not given one.
type ClientIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 client IDs.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
// Panics if the random source fails, which indicates a broken runtime.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs in order.
// It is safe for concurrent use and panics when exhausted.
type FixedGenerator struct {
	mu    sync.Mutex
	ids   []string
	index int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next ID.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.index >= len(g.ids) {
		panic("FixedGenerator: exhausted")
	}
	id := g.ids[g.index]
	g.index++
	return id
}

var (
	_ ClientIDGenerator = UUIDv7Generator{}
	_ ClientIDGenerator = (*FixedGenerator)(nil)
)
