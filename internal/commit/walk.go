package commit

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/ir"
)

// HeadReader reads chunks and heads. Both *chunk.Store and *chunk.Tx
// implement it.
type HeadReader interface {
	chunk.Reader
	Head(ctx context.Context, name string) (ir.Hash, bool, error)
}

// ErrNoHead is returned by FromHead when the head does not exist.
var ErrNoHead = errors.New("head does not exist")

// FromHash loads and decodes the commit stored under h.
func FromHash(ctx context.Context, r chunk.Reader, h ir.Hash) (Commit, error) {
	c, err := r.Get(ctx, h)
	if err != nil {
		return Commit{}, err
	}
	return Decode(c)
}

// FromHead loads the commit a head points at.
func FromHead(ctx context.Context, r HeadReader, name string) (Commit, error) {
	h, ok, err := r.Head(ctx, name)
	if err != nil {
		return Commit{}, err
	}
	if !ok {
		return Commit{}, fmt.Errorf("%w: %q", ErrNoHead, name)
	}
	return FromHash(ctx, r, h)
}

// basisOf loads the basis of a local commit. The local commit holds a
// strong ref to it, so absence means the graph is corrupt.
func basisOf(ctx context.Context, r chunk.Reader, c Commit) (Commit, error) {
	b, err := FromHash(ctx, r, c.Basis())
	if chunk.IsNotFound(err) {
		return Commit{}, &chunk.CorruptGraphError{Hash: c.Basis(), Parent: c.Hash.String()}
	}
	return b, err
}

// BaseSnapshot returns the nearest snapshot at or below c.
func BaseSnapshot(ctx context.Context, r chunk.Reader, c Commit) (Commit, error) {
	for !c.IsSnapshot() {
		var err error
		if c, err = basisOf(ctx, r, c); err != nil {
			return Commit{}, err
		}
	}
	return c, nil
}

// LocalMutations returns the local commits above the base snapshot of c,
// newest first.
func LocalMutations(ctx context.Context, r chunk.Reader, c Commit) ([]Commit, error) {
	var out []Commit
	for c.IsLocal() {
		out = append(out, c)
		var err error
		if c, err = basisOf(ctx, r, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Chain returns c and every commit below it down to and including its base
// snapshot.
func Chain(ctx context.Context, r chunk.Reader, c Commit) ([]Commit, error) {
	locals, err := LocalMutations(ctx, r, c)
	if err != nil {
		return nil, err
	}
	base := c
	if len(locals) > 0 {
		if base, err = basisOf(ctx, r, locals[len(locals)-1]); err != nil {
			return nil, err
		}
	}
	return append(locals, base), nil
}

// History returns up to limit commits starting at c and following basis
// links. Past a snapshot the walk stops quietly at the first collected
// commit, since a snapshot does not keep its basis alive. limit <= 0 means
// no limit.
func History(ctx context.Context, r chunk.Reader, c Commit, limit int) ([]Commit, error) {
	out := []Commit{c}
	for limit <= 0 || len(out) < limit {
		if c.Basis().IsEmpty() {
			break
		}
		next, err := FromHash(ctx, r, c.Basis())
		if err != nil {
			if chunk.IsNotFound(err) {
				if c.IsSnapshot() {
					break
				}
				return nil, &chunk.CorruptGraphError{Hash: c.Basis(), Parent: c.Hash.String()}
			}
			return nil, err
		}
		out = append(out, next)
		c = next
	}
	return out, nil
}

// MutationID returns the last mutation ID for clientID reflected in c:
// the ID of the newest local commit by that client above the base
// snapshot, else the snapshot's recorded value, else 0.
func MutationID(ctx context.Context, r chunk.Reader, c Commit, clientID string) (uint64, error) {
	for {
		switch m := c.Meta.(type) {
		case SnapshotMeta:
			return m.LastMutationIDs[clientID], nil
		case LocalMeta:
			if m.ClientID == clientID {
				return m.MutationID, nil
			}
		}
		var err error
		if c, err = basisOf(ctx, r, c); err != nil {
			return 0, err
		}
	}
}

// NextMutationID returns the ID the next mutation by clientID on top of c
// must carry.
func NextMutationID(ctx context.Context, r chunk.Reader, c Commit, clientID string) (uint64, error) {
	id, err := MutationID(ctx, r, c, clientID)
	if err != nil {
		return 0, err
	}
	return id + 1, nil
}

// CheckNextMutationID fails with *InconsistentMutationError unless
// mutationID is exactly the next ID for clientID on basis.
func CheckNextMutationID(ctx context.Context, r chunk.Reader, basis Commit, clientID, mutatorName string, mutationID uint64) error {
	next, err := NextMutationID(ctx, r, basis, clientID)
	if err != nil {
		return err
	}
	if next != mutationID {
		return &InconsistentMutationError{
			ClientID:    clientID,
			MutatorName: mutatorName,
			Expected:    next,
			Actual:      mutationID,
		}
	}
	return nil
}
