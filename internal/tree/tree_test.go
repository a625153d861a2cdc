package tree

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

func newStore(t *testing.T) *chunk.Store {
	t.Helper()
	s := chunk.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("key-%04d", i)
	}
	return out
}

func putAll(t *testing.T, s *chunk.Store, root ir.Hash, ks []string) ir.Hash {
	t.Helper()
	muts := make([]Mutation, len(ks))
	for i, k := range ks {
		muts[i] = Put(k, ir.String("v-"+k))
	}
	h, err := Apply(context.Background(), s, root, muts)
	require.NoError(t, err)
	return h
}

func TestEmptyRoot(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	root, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	n, err := Len(ctx, s, root)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := Entries(ctx, s, root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, ok, err := Get(ctx, s, root, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	root, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	root, err = Apply(ctx, s, root, []Mutation{
		Put("b", ir.Int(2)),
		Put("a", ir.Object{"x": ir.Bool(true)}),
		Put("c", ir.Null{}),
	})
	require.NoError(t, err)

	v, ok, err := Get(ctx, s, root, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ir.Equal(ir.Object{"x": ir.Bool(true)}, v))

	ok, err = Has(ctx, s, root, "c")
	require.NoError(t, err)
	assert.True(t, ok, "null values are present")

	root, err = Apply(ctx, s, root, []Mutation{Del("b"), Del("zzz")})
	require.NoError(t, err)

	entries, err := Entries(ctx, s, root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "c", entries[1].Key)
}

func TestLastMutationWins(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	root, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	root, err = Apply(ctx, s, root, []Mutation{
		Put("k", ir.Int(1)),
		Del("k"),
		Put("k", ir.Int(3)),
	})
	require.NoError(t, err)

	v, ok, err := Get(ctx, s, root, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Int(3), v)
}

func TestSplitsAboveLeafLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	root, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	ks := keys(500)
	root = putAll(t, s, root, ks)

	c, err := s.Get(ctx, root)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Refs, "root should be internal")

	n, err := Len(ctx, s, root)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	for _, k := range ks {
		v, ok, err := Get(ctx, s, root, k)
		require.NoError(t, err)
		require.True(t, ok, k)
		assert.Equal(t, ir.String("v-"+k), v)
	}

	entries, err := Entries(ctx, s, root)
	require.NoError(t, err)
	require.Len(t, entries, 500)
	for i, e := range entries {
		assert.Equal(t, ks[i], e.Key)
	}
}

func TestHistoryIndependence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	empty, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	ks := keys(300)

	// All at once.
	direct := putAll(t, s, empty, ks)

	// One at a time in a shuffled order.
	rng := rand.New(rand.NewSource(7))
	shuffled := append([]string(nil), ks...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	incremental := empty
	for _, k := range shuffled {
		incremental = putAll(t, s, incremental, []string{k})
	}
	assert.Equal(t, direct, incremental)

	// Add extra keys then remove them again.
	extra := []string{"extra-1", "extra-2", "extra-3"}
	grown := putAll(t, s, direct, extra)
	assert.NotEqual(t, direct, grown)
	shrunk, err := Apply(ctx, s, grown, []Mutation{Del("extra-1"), Del("extra-2"), Del("extra-3")})
	require.NoError(t, err)
	assert.Equal(t, direct, shrunk)
}

func TestCollapseToLeaf(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	empty, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	ks := keys(100)
	big := putAll(t, s, empty, ks)

	var dels []Mutation
	for _, k := range ks[10:] {
		dels = append(dels, Del(k))
	}
	small, err := Apply(ctx, s, big, dels)
	require.NoError(t, err)

	assert.Equal(t, putAll(t, s, empty, ks[:10]), small)
	c, err := s.Get(ctx, small)
	require.NoError(t, err)
	assert.Empty(t, c.Refs, "ten entries fit in one leaf")

	none := make([]Mutation, 0, 10)
	for _, k := range ks[:10] {
		none = append(none, Del(k))
	}
	cleared, err := Apply(ctx, s, small, none)
	require.NoError(t, err)
	assert.Equal(t, empty, cleared)
}

func TestApplySharesUntouchedChildren(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	empty, err := EmptyRoot(ctx, s)
	require.NoError(t, err)

	before := putAll(t, s, empty, keys(400))
	oldRoot, err := s.Get(ctx, before)
	require.NoError(t, err)

	after, err := Apply(ctx, s, before, []Mutation{Put("key-0001", ir.Int(0))})
	require.NoError(t, err)
	newRoot, err := s.Get(ctx, after)
	require.NoError(t, err)

	require.Equal(t, len(oldRoot.Refs), len(newRoot.Refs))
	changed := 0
	for i := range oldRoot.Refs {
		if oldRoot.Refs[i] != newRoot.Refs[i] {
			changed++
		}
	}
	assert.Equal(t, 1, changed)
}

func TestMissingChildIsCorruptGraph(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// An internal node whose only child was never stored.
	missing := ir.ChunkHash([]byte("gone"), nil)
	n := &node{slots: []slot{{nibble: 0, count: 40, hash: missing}}}
	data, refs, err := n.encode()
	require.NoError(t, err)
	root, err := s.Put(ctx, data, refs)
	require.NoError(t, err)

	_, err = Entries(ctx, s, root)
	require.Error(t, err)
	assert.True(t, chunk.IsCorruptGraph(err))
}

func TestMergeLeaf(t *testing.T) {
	entries := []Entry{{"a", ir.Int(1)}, {"c", ir.Int(3)}, {"e", ir.Int(5)}}
	muts := []Mutation{Put("b", ir.Int(2)), Del("c"), Put("e", ir.Int(50)), Put("f", ir.Int(6))}

	got := mergeLeaf(entries, muts)
	want := []Entry{{"a", ir.Int(1)}, {"b", ir.Int(2)}, {"e", ir.Int(50)}, {"f", ir.Int(6)}}
	assert.Equal(t, want, got)
}
