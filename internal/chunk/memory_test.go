package chunk_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/chunk/chunktest"
	"github.com/roach88/replica/internal/ir"
)

func TestMemoryBackendConformance(t *testing.T) {
	chunktest.Run(t, func(t *testing.T) chunk.Backend {
		return chunk.NewMemoryBackend()
	})
}

func TestMemoryBackendClosed(t *testing.T) {
	s := chunk.NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), ir.ChunkHash([]byte("x"), nil))
	assert.ErrorIs(t, err, chunk.ErrClosed)
	_, err = s.Put(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, chunk.ErrClosed)
}

func TestMemoryBackendCanceledContext(t *testing.T) {
	s := chunk.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentCompareAndSwapHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := chunk.NewMemoryStore()

	base, err := s.Put(ctx, []byte("base"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx *chunk.Tx) error {
		return tx.SetHead(ctx, "main", base)
	}))

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx *chunk.Tx) error {
				h, err := tx.Put(ctx, []byte(fmt.Sprintf("writer-%d", i)), []ir.Hash{base})
				if err != nil {
					return err
				}
				return tx.CompareAndSwapHead(ctx, "main", base, h)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case chunk.IsConcurrentModification(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	// Losing writers' chunks were rolled back with their transactions.
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Chunks)
}
