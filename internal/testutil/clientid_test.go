package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedClientIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedClientIDGenerator("c1")

	assert.Equal(t, "c1", gen.Generate())
	assert.Equal(t, "c1", gen.Generate())
}

func TestFixedClientIDGenerator_EmptyIDDefault(t *testing.T) {
	gen := NewFixedClientIDGenerator("")

	assert.Equal(t, "test-client", gen.Generate())
}

func TestSequentialClientIDGenerator(t *testing.T) {
	gen := NewSequentialClientIDGenerator("client")

	assert.Equal(t, "client-1", gen.Generate())
	assert.Equal(t, "client-2", gen.Generate())
}

func TestSequentialClientIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequentialClientIDGenerator("c")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
