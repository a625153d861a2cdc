package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/tree"
)

func TestRebaseMutation_RejectsSnapshot(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)
	genesis := mustHead(t, r)

	_, _, err := r.RebaseMutation(ctx, r.Store(), genesis, genesis)
	assert.Error(t, err)
}

func TestRebaseMutation_ReplaysOntoNewBasis(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)
	genesis := mustHead(t, r)

	res, err := r.Mutate(ctx, "inc", inc("k", 2))
	require.NoError(t, err)
	local, err := commit.FromHash(ctx, r.Store(), res.Hash)
	require.NoError(t, err)

	// A snapshot where the server already has k=40.
	root, err := tree.Apply(ctx, r.Store(), genesis.ValueHash, []tree.Mutation{tree.Put("k", ir.Int(40))})
	require.NoError(t, err)
	snap, err := commit.Put(ctx, r.Store(), commit.SnapshotMeta{
		BasisHash:       genesis.Hash,
		Cookie:          cookie.FromInt(1),
		LastMutationIDs: map[string]uint64{},
	}, root)
	require.NoError(t, err)

	out, noop, err := r.RebaseMutation(ctx, r.Store(), snap, local)
	require.NoError(t, err)
	assert.False(t, noop)
	assert.Equal(t, snap.Hash, out.Basis())

	v, ok, err := tree.Get(ctx, r.Store(), out.ValueHash, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Int(42), v)

	meta, _ := out.Local()
	want, _ := local.Local()
	assert.Equal(t, want.MutationID, meta.MutationID)
	assert.Equal(t, want.Timestamp, meta.Timestamp)
	assert.Equal(t, want.MutatorName, meta.MutatorName)
}

func TestRebase_SeesRebaseReason(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)

	var reasons []mutator.Reason
	require.NoError(t, r.Registry().RegisterFunc("record", func(_ context.Context, tx mutator.Tx, _ ir.Value) error {
		reasons = append(reasons, tx.Reason())
		return nil
	}))

	_, err := r.Mutate(ctx, "record", ir.Null{})
	require.NoError(t, err)
	_, err = r.ApplyPull(ctx, PullResponse{Cookie: cookie.FromInt(1)})
	require.NoError(t, err)

	assert.Equal(t, []mutator.Reason{mutator.ReasonInitial, mutator.ReasonRebase}, reasons)
}

func TestRebase_FoldsOverPending(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)

	for i := 0; i < 3; i++ {
		_, err := r.Mutate(ctx, "inc", inc("k", 1))
		require.NoError(t, err)
	}
	head := mustHead(t, r)
	pending, err := commit.LocalMutations(ctx, r.Store(), head)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// oldest first
	pending[0], pending[2] = pending[2], pending[0]

	genesis, err := commit.BaseSnapshot(ctx, r.Store(), head)
	require.NoError(t, err)
	snap, err := commit.Put(ctx, r.Store(), commit.SnapshotMeta{
		BasisHash:       genesis.Hash,
		Cookie:          cookie.FromInt(1),
		LastMutationIDs: map[string]uint64{"c1": 2},
	}, genesis.ValueHash)
	require.NoError(t, err)

	res, err := r.Rebase(ctx, r.Store(), snap, pending)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Dropped)
	assert.Equal(t, 1, res.Replayed)

	meta, ok := res.Head.Local()
	require.True(t, ok)
	assert.Equal(t, uint64(3), meta.MutationID)
	assert.Equal(t, snap.Hash, meta.BasisHash)

	v, _, err := tree.Get(ctx, r.Store(), res.Head.ValueHash, "k")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)

	// Nothing pending leaves the target as the head.
	res, err = r.Rebase(ctx, r.Store(), snap, nil)
	require.NoError(t, err)
	assert.Equal(t, snap.Hash, res.Head.Hash)
}
