package testutil

import "sync"

// Epoch is the Unix millisecond timestamp a DeterministicClock counts from,
// so generated commit timestamps look like real ones.
const Epoch int64 = 1700000000000

// DeterministicClock is an engine.Clock whose readings depend only on how
// often it has been read. Two replicas driven by fresh clocks through the
// same mutations write byte-identical commits and therefore equal hashes.
//
// Safe for concurrent use.
type DeterministicClock struct {
	mu     sync.Mutex
	ticks  int64
	offset int64 // milliseconds added by Advance
}

// NewDeterministicClock returns a clock that has not been read yet. Its
// first reading is Epoch+1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next records a reading and returns the number of readings so far.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.ticks
}

// Current returns the number of readings without taking one.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Now takes a reading and returns it as Unix milliseconds.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return Epoch + c.offset + c.ticks
}

// Advance moves later readings forward by ms, simulating idle time between
// mutations.
func (c *DeterministicClock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += ms
}

// Reset returns the clock to its unread state.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
	c.offset = 0
}
