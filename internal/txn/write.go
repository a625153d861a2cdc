// Package txn implements the write transaction, the only way a new commit
// is produced. A Write is seeded from a basis commit, buffers key/value
// changes, and on commit materializes them as a new value tree plus commit
// chunk, advancing a head only if it still points at the basis.
package txn

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/tree"
)

// Write is a buffered, copy-on-write view over a basis commit's value
// tree. It is not safe for concurrent use.
type Write struct {
	reader  chunk.Reader
	basis   commit.Commit
	meta    commit.Meta
	reason  mutator.Reason
	pending map[string]tree.Mutation
	cleared bool
}

// NewWriteLocal opens a write that will produce a local commit. It fails
// with *commit.InconsistentMutationError unless mutationID is the next ID
// for clientID on basis.
func NewWriteLocal(
	ctx context.Context,
	r chunk.Reader,
	basis commit.Commit,
	name string,
	args ir.Value,
	clientID string,
	mutationID uint64,
	timestamp int64,
) (*Write, error) {
	if err := commit.CheckNextMutationID(ctx, r, basis, clientID, name, mutationID); err != nil {
		return nil, err
	}
	if args == nil {
		args = ir.Null{}
	}
	return &Write{
		reader: r,
		basis:  basis,
		meta: commit.LocalMeta{
			BasisHash:   basis.Hash,
			MutatorName: name,
			MutatorArgs: args,
			MutationID:  mutationID,
			ClientID:    clientID,
			Timestamp:   timestamp,
		},
		reason:  mutator.ReasonInitial,
		pending: make(map[string]tree.Mutation),
	}, nil
}

// NewWriteSnapshot opens a write that will produce a snapshot on basis.
func NewWriteSnapshot(
	_ context.Context,
	r chunk.Reader,
	basis commit.Commit,
	ck cookie.Cookie,
	lastMutationIDs map[string]uint64,
) *Write {
	lmids := make(map[string]uint64, len(lastMutationIDs))
	for id, n := range lastMutationIDs {
		lmids[id] = n
	}
	return &Write{
		reader: r,
		basis:  basis,
		meta: commit.SnapshotMeta{
			BasisHash:       basis.Hash,
			Cookie:          ck,
			LastMutationIDs: lmids,
		},
		pending: make(map[string]tree.Mutation),
	}
}

// WithReason marks the write as an initial run or a rebase replay.
func (w *Write) WithReason(r mutator.Reason) *Write {
	w.reason = r
	return w
}

// Basis returns the commit the write is built on.
func (w *Write) Basis() commit.Commit {
	return w.basis
}

// Meta returns the metadata the commit will carry.
func (w *Write) Meta() commit.Meta {
	return w.meta
}

func (w *Write) ClientID() string {
	if m, ok := w.meta.(commit.LocalMeta); ok {
		return m.ClientID
	}
	return ""
}

func (w *Write) MutationID() uint64 {
	if m, ok := w.meta.(commit.LocalMeta); ok {
		return m.MutationID
	}
	return 0
}

func (w *Write) Reason() mutator.Reason {
	return w.reason
}

// Get returns the value of key as seen by this write.
func (w *Write) Get(ctx context.Context, key string) (ir.Value, bool, error) {
	if m, ok := w.pending[key]; ok {
		if m.Delete {
			return nil, false, nil
		}
		return m.Value, true, nil
	}
	if w.cleared {
		return nil, false, nil
	}
	return tree.Get(ctx, w.reader, w.basis.ValueHash, key)
}

// Has reports whether key is present as seen by this write.
func (w *Write) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := w.Get(ctx, key)
	return ok, err
}

// Put buffers a write of v under key.
func (w *Write) Put(_ context.Context, key string, v ir.Value) error {
	if v == nil {
		return fmt.Errorf("put %q: nil value", key)
	}
	w.pending[key] = tree.Put(key, v)
	return nil
}

// Del buffers a delete of key and reports whether it was present.
func (w *Write) Del(ctx context.Context, key string) (bool, error) {
	ok, err := w.Has(ctx, key)
	if err != nil {
		return false, err
	}
	w.pending[key] = tree.Del(key)
	return ok, nil
}

// Clear drops every key, including those in the basis.
func (w *Write) Clear() {
	w.cleared = true
	w.pending = make(map[string]tree.Mutation)
}

// Changed reports whether any write is buffered.
func (w *Write) Changed() bool {
	return w.cleared || len(w.pending) > 0
}

// PutCommit stores the new value tree and commit chunk through cw and
// returns the commit. No head is moved.
func (w *Write) PutCommit(ctx context.Context, cw chunk.Writer) (commit.Commit, error) {
	root := w.basis.ValueHash
	if w.cleared {
		var err error
		if root, err = tree.EmptyRoot(ctx, cw); err != nil {
			return commit.Commit{}, err
		}
	}

	muts := make([]tree.Mutation, 0, len(w.pending))
	for _, m := range w.pending {
		muts = append(muts, m)
	}
	sort.Slice(muts, func(i, j int) bool { return muts[i].Key < muts[j].Key })

	root, err := tree.Apply(ctx, cw, root, muts)
	if err != nil {
		return commit.Commit{}, fmt.Errorf("apply writes: %w", err)
	}
	return commit.Put(ctx, cw, w.meta, root)
}

// Commit stores the write and advances head from the basis to the new
// commit in one store transaction. If head no longer points at the basis
// it returns *chunk.ConcurrentModificationError and stores nothing.
func (w *Write) Commit(ctx context.Context, s *chunk.Store, head string) (commit.Commit, error) {
	var out commit.Commit
	err := s.Update(ctx, func(tx *chunk.Tx) error {
		// Check the head before touching the basis: once the head has moved,
		// the basis tree may already have been collected.
		actual, _, err := tx.Head(ctx, head)
		if err != nil {
			return err
		}
		if actual != w.basis.Hash {
			return &chunk.ConcurrentModificationError{Head: head, Expected: w.basis.Hash, Actual: actual}
		}
		c, err := w.PutCommit(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.CompareAndSwapHead(ctx, head, w.basis.Hash, c.Hash); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

var _ mutator.Tx = (*Write)(nil)
