package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDeterministicClock_Readings(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, Epoch+1, clock.Now())
	assert.Equal(t, Epoch+2, clock.Now())
	assert.Equal(t, int64(3), clock.Next())
	assert.Equal(t, Epoch+4, clock.Now())
	assert.Equal(t, int64(4), clock.Current())
}

func TestDeterministicClock_Advance(t *testing.T) {
	clock := NewDeterministicClock()
	first := clock.Now()

	clock.Advance(60_000)
	second := clock.Now()
	assert.Equal(t, int64(60_001), second-first)

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, Epoch+1, clock.Now(), "reset also drops the offset")
}

func TestDeterministicClock_SameSequence(t *testing.T) {
	a := NewDeterministicClock()
	b := NewDeterministicClock()
	for range 50 {
		require.Equal(t, a.Now(), b.Now())
	}
}

func TestDeterministicClock_ConcurrentReadingsAreUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, reads = 16, 200

	results := make([][]int64, workers)
	var g errgroup.Group
	for w := range workers {
		results[w] = make([]int64, reads)
		g.Go(func() error {
			for i := range reads {
				results[w][i] = clock.Now()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int64]bool, workers*reads)
	for _, rs := range results {
		for _, v := range rs {
			require.False(t, seen[v], "duplicate reading %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, workers*reads)
	assert.True(t, seen[Epoch+1])
	assert.True(t, seen[Epoch+workers*reads])
}
