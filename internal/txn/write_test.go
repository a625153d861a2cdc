package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/tree"
)

const head = "main"

func genesis(t *testing.T) (*chunk.Store, commit.Commit) {
	t.Helper()
	ctx := context.Background()
	s := chunk.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	var g commit.Commit
	err := s.Update(ctx, func(tx *chunk.Tx) error {
		root, err := tree.EmptyRoot(ctx, tx)
		if err != nil {
			return err
		}
		g, err = commit.Put(ctx, tx, commit.SnapshotMeta{Cookie: cookie.Null()}, root)
		if err != nil {
			return err
		}
		return tx.SetHead(ctx, head, g.Hash)
	})
	require.NoError(t, err)
	return s, g
}

func TestWriteLocalCommit(t *testing.T) {
	ctx := context.Background()
	s, g := genesis(t)

	w, err := NewWriteLocal(ctx, s, g, "set", ir.Object{"k": ir.String("v")}, "c1", 1, 42)
	require.NoError(t, err)
	assert.Equal(t, "c1", w.ClientID())
	assert.Equal(t, uint64(1), w.MutationID())
	assert.Equal(t, mutator.ReasonInitial, w.Reason())

	require.NoError(t, w.Put(ctx, "k", ir.String("v")))
	require.NoError(t, w.Put(ctx, "gone", ir.Int(1)))
	existed, err := w.Del(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, existed, "reads see own writes")

	v, ok, err := w.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.String("v"), v)

	c, err := w.Commit(ctx, s, head)
	require.NoError(t, err)

	h, _, err := s.Head(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, c.Hash, h)

	meta, ok := c.Local()
	require.True(t, ok)
	assert.Equal(t, g.Hash, meta.BasisHash)
	assert.Equal(t, int64(42), meta.Timestamp)

	entries, err := tree.Entries(ctx, s, c.ValueHash)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Key)
}

func TestWriteLocalRejectsWrongMutationID(t *testing.T) {
	ctx := context.Background()
	s, g := genesis(t)

	for _, id := range []uint64{0, 2} {
		_, err := NewWriteLocal(ctx, s, g, "set", nil, "c1", id, 0)
		require.Error(t, err)
		assert.True(t, commit.IsInconsistentMutation(err))
	}
}

func TestConcurrentWritesOnSameBasis(t *testing.T) {
	ctx := context.Background()
	s, g := genesis(t)

	first, err := NewWriteLocal(ctx, s, g, "set", nil, "c1", 1, 0)
	require.NoError(t, err)
	second, err := NewWriteLocal(ctx, s, g, "set", nil, "c2", 1, 0)
	require.NoError(t, err)

	require.NoError(t, first.Put(ctx, "k", ir.Int(1)))
	require.NoError(t, second.Put(ctx, "k", ir.Int(2)))

	c1, err := first.Commit(ctx, s, head)
	require.NoError(t, err)

	_, err = second.Commit(ctx, s, head)
	require.Error(t, err)
	var cm *chunk.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, g.Hash, cm.Expected)
	assert.Equal(t, c1.Hash, cm.Actual)

	h, _, err := s.Head(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, c1.Hash, h, "losing write must not overwrite")

	v, _, err := tree.Get(ctx, s, c1.ValueHash, "k")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)
}

func TestWriteSnapshotClear(t *testing.T) {
	ctx := context.Background()
	s, g := genesis(t)

	w, err := NewWriteLocal(ctx, s, g, "set", nil, "c1", 1, 0)
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, "old", ir.Int(1)))
	local, err := w.Commit(ctx, s, head)
	require.NoError(t, err)

	snap := NewWriteSnapshot(ctx, s, local, cookie.FromInt(5), map[string]uint64{"c1": 1})
	assert.False(t, snap.Changed())
	snap.Clear()
	require.NoError(t, snap.Put(ctx, "new", ir.Bool(true)))
	assert.True(t, snap.Changed())

	ok, err := snap.Has(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, snap.ClientID())

	c, err := snap.Commit(ctx, s, head)
	require.NoError(t, err)
	require.True(t, c.IsSnapshot())

	entries, err := tree.Entries(ctx, s, c.ValueHash)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Key)
}

func TestPutCommitWithoutHeadMove(t *testing.T) {
	ctx := context.Background()
	s, g := genesis(t)

	w, err := NewWriteLocal(ctx, s, g, "noop", nil, "c1", 1, 0)
	require.NoError(t, err)
	w.WithReason(mutator.ReasonRebase)
	assert.Equal(t, mutator.ReasonRebase, w.Reason())

	var c commit.Commit
	require.NoError(t, s.Update(ctx, func(tx *chunk.Tx) error {
		var err error
		c, err = w.PutCommit(ctx, tx)
		return err
	}))
	assert.Equal(t, g.ValueHash, c.ValueHash, "no writes keeps the basis value tree")

	h, _, err := s.Head(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, g.Hash, h)
}

func TestCommitAfterBasisCollected(t *testing.T) {
	ctx := context.Background()
	s, g := genesis(t)

	w, err := NewWriteLocal(ctx, s, g, "set", nil, "c1", 1, 0)
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, "k", ir.Int(1)))
	local, err := w.Commit(ctx, s, head)
	require.NoError(t, err)

	stale, err := NewWriteLocal(ctx, s, local, "set", nil, "c1", 2, 0)
	require.NoError(t, err)
	require.NoError(t, stale.Put(ctx, "x", ir.Int(2)))

	// A new snapshot on genesis replaces the local chain.
	snap := NewWriteSnapshot(ctx, s, g, cookie.FromInt(1), map[string]uint64{"c1": 1})
	require.NoError(t, snap.Put(ctx, "other", ir.Bool(true)))
	var next commit.Commit
	require.NoError(t, s.Update(ctx, func(tx *chunk.Tx) error {
		next, err = snap.PutCommit(ctx, tx)
		if err != nil {
			return err
		}
		return tx.SetHead(ctx, head, next.Hash)
	}))
	n, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Positive(t, n)
	has, err := s.Has(ctx, local.ValueHash)
	require.NoError(t, err)
	require.False(t, has, "stale basis tree is collected")

	_, err = stale.Commit(ctx, s, head)
	require.Error(t, err)
	assert.True(t, chunk.IsConcurrentModification(err), "got %v", err)
	var cm *chunk.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, local.Hash, cm.Expected)
	assert.Equal(t, next.Hash, cm.Actual)
}
