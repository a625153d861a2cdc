package testutil

import (
	"fmt"
	"sync"
)

// FixedClientIDGenerator generates the same client ID every time.
//
// Scenarios that reopen a replica over the same store use it so every
// reopened replica keeps writing as the same client.
//
// Thread-safety: FixedClientIDGenerator is stateless and safe for concurrent use.
type FixedClientIDGenerator struct {
	id string
}

// NewFixedClientIDGenerator creates a generator that always returns id.
//
// The ID is typically set in the scenario YAML:
//
//	client_id: "c1"
//
// If id is empty, Generate() returns "test-client".
func NewFixedClientIDGenerator(id string) *FixedClientIDGenerator {
	if id == "" {
		id = "test-client"
	}
	return &FixedClientIDGenerator{id: id}
}

// Generate returns the fixed client ID.
//
// Implements engine.ClientIDGenerator interface.
func (g *FixedClientIDGenerator) Generate() string {
	return g.id
}

// SequentialClientIDGenerator generates prefix-1, prefix-2, and so on.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialClientIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialClientIDGenerator creates a generator with the given prefix.
func NewSequentialClientIDGenerator(prefix string) *SequentialClientIDGenerator {
	return &SequentialClientIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialClientIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
