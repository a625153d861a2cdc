// Package chunktest holds the conformance suite every chunk.Backend must
// pass. Backend packages call Run from their own tests.
package chunktest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) chunk.Backend

// Run executes the suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s *chunk.Store)
	}{
		{"PutIsIdempotent", testPutIsIdempotent},
		{"GetMissing", testGetMissing},
		{"PutStartsUnreferenced", testPutStartsUnreferenced},
		{"HeadCompareAndSwap", testHeadCompareAndSwap},
		{"HeadRequiresChunk", testHeadRequiresChunk},
		{"RefCountCascade", testRefCountCascade},
		{"SharedSubgraphSurvivesHeadMove", testSharedSubgraphSurvivesHeadMove},
		{"PinsAreRoots", testPinsAreRoots},
		{"UnpinWithoutPin", testUnpinWithoutPin},
		{"UpdateRollsBack", testUpdateRollsBack},
		{"CorruptGraph", testCorruptGraph},
		{"RemoveHead", testRemoveHead},
		{"Heads", testHeads},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			s := chunk.NewStore(b)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func put(t *testing.T, s *chunk.Store, data string, refs ...ir.Hash) ir.Hash {
	t.Helper()
	h, err := s.Put(context.Background(), []byte(data), refs)
	require.NoError(t, err)
	return h
}

func setHead(t *testing.T, s *chunk.Store, name string, h ir.Hash) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *chunk.Tx) error {
		return tx.SetHead(context.Background(), name, h)
	})
	require.NoError(t, err)
}

func refCount(t *testing.T, s *chunk.Store, h ir.Hash) int64 {
	t.Helper()
	n, err := s.RefCount(context.Background(), h)
	require.NoError(t, err)
	return n
}

func testPutIsIdempotent(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	a := put(t, s, "leaf")
	b := put(t, s, "leaf")
	assert.Equal(t, a, b)
	assert.Equal(t, ir.ChunkHash([]byte("leaf"), nil), a)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Chunks)

	c, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("leaf"), c.Data)
	assert.Empty(t, c.Refs)
}

func testGetMissing(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	missing := ir.ChunkHash([]byte("absent"), nil)

	_, err := s.Get(ctx, missing)
	require.Error(t, err)
	var nf *chunk.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, missing, nf.Hash)

	ok, err := s.Has(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testPutStartsUnreferenced(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	leaf := put(t, s, "leaf")
	parent := put(t, s, "parent", leaf)

	assert.Zero(t, refCount(t, s, leaf))
	assert.Zero(t, refCount(t, s, parent))

	n, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := s.Has(ctx, leaf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testHeadCompareAndSwap(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	a := put(t, s, "a")
	b := put(t, s, "b")

	cas := func(expected, next ir.Hash) error {
		return s.Update(ctx, func(tx *chunk.Tx) error {
			return tx.CompareAndSwapHead(ctx, "main", expected, next)
		})
	}

	require.NoError(t, cas("", a))

	err := cas("", b)
	require.Error(t, err)
	var cm *chunk.ConcurrentModificationError
	require.True(t, errors.As(err, &cm))
	assert.Equal(t, "main", cm.Head)
	assert.Equal(t, a, cm.Actual)

	require.NoError(t, cas(a, b))
	h, ok, err := s.Head(ctx, "main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, b, h)
	assert.Zero(t, refCount(t, s, a))
	assert.Equal(t, int64(1), refCount(t, s, b))

	assert.True(t, chunk.IsConcurrentModification(cas(a, a)))
}

func testHeadRequiresChunk(t *testing.T, s *chunk.Store) {
	missing := ir.ChunkHash([]byte("absent"), nil)
	err := s.Update(context.Background(), func(tx *chunk.Tx) error {
		return tx.SetHead(context.Background(), "main", missing)
	})
	require.Error(t, err)
	assert.True(t, chunk.IsNotFound(err))

	_, ok, err := s.Head(context.Background(), "main")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRefCountCascade(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	a := put(t, s, "a")
	b := put(t, s, "b")
	p := put(t, s, "p", a, b)
	q := put(t, s, "q", a)

	setHead(t, s, "one", p)
	setHead(t, s, "two", q)
	assert.Equal(t, int64(1), refCount(t, s, p))
	assert.Equal(t, int64(1), refCount(t, s, q))
	assert.Equal(t, int64(2), refCount(t, s, a))
	assert.Equal(t, int64(1), refCount(t, s, b))

	err := s.Update(ctx, func(tx *chunk.Tx) error {
		return tx.RemoveHead(ctx, "one")
	})
	require.NoError(t, err)
	assert.Zero(t, refCount(t, s, p))
	assert.Zero(t, refCount(t, s, b))
	assert.Equal(t, int64(1), refCount(t, s, a))

	// Unreferenced chunks stay readable until collected.
	_, err = s.Get(ctx, p)
	require.NoError(t, err)

	n, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, h := range []ir.Hash{a, q} {
		_, err := s.Get(ctx, h)
		assert.NoError(t, err)
	}
	for _, h := range []ir.Hash{p, b} {
		_, err := s.Get(ctx, h)
		assert.True(t, chunk.IsNotFound(err))
	}
}

func testSharedSubgraphSurvivesHeadMove(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	shared := put(t, s, "shared")
	old := put(t, s, "old", shared)
	next := put(t, s, "next", shared)

	setHead(t, s, "main", old)
	setHead(t, s, "main", next)

	assert.Equal(t, int64(1), refCount(t, s, shared))
	assert.Zero(t, refCount(t, s, old))

	n, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testPinsAreRoots(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	leaf := put(t, s, "leaf")
	root := put(t, s, "root", leaf)

	require.NoError(t, s.Pin(ctx, root))
	require.NoError(t, s.Pin(ctx, root))
	assert.Equal(t, int64(2), refCount(t, s, root))
	assert.Equal(t, int64(1), refCount(t, s, leaf))

	n, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Unpin(ctx, root))
	n, err = s.Collect(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Unpin(ctx, root))
	n, err = s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testUnpinWithoutPin(t *testing.T, s *chunk.Store) {
	h := put(t, s, "x")
	assert.Error(t, s.Unpin(context.Background(), h))
}

func testUpdateRollsBack(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	base := put(t, s, "base")
	setHead(t, s, "main", base)

	boom := errors.New("boom")
	var orphan ir.Hash
	err := s.Update(ctx, func(tx *chunk.Tx) error {
		var err error
		orphan, err = tx.Put(ctx, []byte("orphan"), []ir.Hash{base})
		if err != nil {
			return err
		}
		if err := tx.CompareAndSwapHead(ctx, "main", base, orphan); err != nil {
			return err
		}
		got, err := tx.Get(ctx, orphan)
		require.NoError(t, err)
		assert.Equal(t, []byte("orphan"), got.Data)
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := s.Has(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, ok)

	h, _, err := s.Head(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, base, h)
	assert.Equal(t, int64(1), refCount(t, s, base))
}

func testCorruptGraph(t *testing.T, s *chunk.Store) {
	missing := ir.ChunkHash([]byte("never stored"), nil)
	parent := put(t, s, "parent", missing)

	err := s.Update(context.Background(), func(tx *chunk.Tx) error {
		return tx.SetHead(context.Background(), "main", parent)
	})
	require.Error(t, err)
	var cg *chunk.CorruptGraphError
	require.True(t, errors.As(err, &cg))
	assert.Equal(t, missing, cg.Hash)
	assert.Equal(t, parent.String(), cg.Parent)
}

func testRemoveHead(t *testing.T, s *chunk.Store) {
	ctx := context.Background()
	h := put(t, s, "x")
	setHead(t, s, "tmp", h)

	remove := func() error {
		return s.Update(ctx, func(tx *chunk.Tx) error {
			return tx.RemoveHead(ctx, "tmp")
		})
	}
	require.NoError(t, remove())
	require.NoError(t, remove())

	_, ok, err := s.Head(ctx, "tmp")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, refCount(t, s, h))
}

func testHeads(t *testing.T, s *chunk.Store) {
	a := put(t, s, "a")
	b := put(t, s, "b")
	setHead(t, s, "main", a)
	setHead(t, s, "sync", b)

	heads, err := s.Heads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Hash{"main": a, "sync": b}, heads)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chunk.Stats{Chunks: 2, Unreferenced: 0, Heads: 2}, st)
}
