package chunk

import (
	"context"
	"fmt"

	"github.com/roach88/replica/internal/ir"
)

// Tx is a write transaction opened by Store.Update. It must not be used
// after the callback returns.
type Tx struct {
	w BackendWriter
}

// Get returns the chunk stored under h, including chunks put earlier in
// this transaction.
func (tx *Tx) Get(ctx context.Context, h ir.Hash) (Chunk, error) {
	return getChunk(ctx, tx.w, h)
}

// Has reports whether a chunk is stored under h.
func (tx *Tx) Has(ctx context.Context, h ir.Hash) (bool, error) {
	_, ok, err := tx.w.GetChunk(ctx, h)
	return ok, err
}

// Put stores a chunk and returns its hash. Putting an existing chunk is a
// no-op. Counts are not changed.
func (tx *Tx) Put(ctx context.Context, data []byte, refs []ir.Hash) (ir.Hash, error) {
	c := New(data, refs)
	if err := tx.w.PutChunk(ctx, c); err != nil {
		return "", fmt.Errorf("put chunk %s: %w", c.Hash.Short(), err)
	}
	return c.Hash, nil
}

// Head returns the hash a head points at, or false if it does not exist.
func (tx *Tx) Head(ctx context.Context, name string) (ir.Hash, bool, error) {
	return tx.w.GetHead(ctx, name)
}

// Heads returns every head.
func (tx *Tx) Heads(ctx context.Context) (map[string]ir.Hash, error) {
	return tx.w.Heads(ctx)
}

// SetHead points a head at h unconditionally. h must name a stored chunk.
func (tx *Tx) SetHead(ctx context.Context, name string, h ir.Hash) error {
	old, _, err := tx.w.GetHead(ctx, name)
	if err != nil {
		return err
	}
	return tx.moveHead(ctx, name, old, h)
}

// CompareAndSwapHead points a head at next only if it currently points at
// expected. An empty expected means the head must not exist. On mismatch it
// returns a *ConcurrentModificationError and changes nothing.
func (tx *Tx) CompareAndSwapHead(ctx context.Context, name string, expected, next ir.Hash) error {
	actual, _, err := tx.w.GetHead(ctx, name)
	if err != nil {
		return err
	}
	if actual != expected {
		return &ConcurrentModificationError{Head: name, Expected: expected, Actual: actual}
	}
	return tx.moveHead(ctx, name, actual, next)
}

// RemoveHead deletes a head. Removing a missing head is a no-op.
func (tx *Tx) RemoveHead(ctx context.Context, name string) error {
	old, ok, err := tx.w.GetHead(ctx, name)
	if err != nil || !ok {
		return err
	}
	if err := tx.w.DeleteHead(ctx, name); err != nil {
		return err
	}
	return tx.decRef(ctx, old)
}

func (tx *Tx) moveHead(ctx context.Context, name string, old, next ir.Hash) error {
	if next.IsEmpty() {
		return fmt.Errorf("head %q: empty hash", name)
	}
	if old == next {
		return nil
	}
	if _, err := getChunk(ctx, tx.w, next); err != nil {
		return fmt.Errorf("move head %q: %w", name, err)
	}
	// Increment before decrementing so chunks shared by the old and new
	// graphs never pass through zero.
	if err := tx.incRef(ctx, next, "head "+name); err != nil {
		return err
	}
	if err := tx.w.SetHead(ctx, name, next); err != nil {
		return err
	}
	if old.IsEmpty() {
		return nil
	}
	return tx.decRef(ctx, old)
}

// Pin adds a root on h.
func (tx *Tx) Pin(ctx context.Context, h ir.Hash) error {
	if _, err := getChunk(ctx, tx.w, h); err != nil {
		return fmt.Errorf("pin: %w", err)
	}
	n, err := tx.w.PinCount(ctx, h)
	if err != nil {
		return err
	}
	if err := tx.w.SetPinCount(ctx, h, n+1); err != nil {
		return err
	}
	return tx.incRef(ctx, h, "pin")
}

// Unpin removes one pin from h.
func (tx *Tx) Unpin(ctx context.Context, h ir.Hash) error {
	n, err := tx.w.PinCount(ctx, h)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unpin %s: not pinned", h.Short())
	}
	if err := tx.w.SetPinCount(ctx, h, n-1); err != nil {
		return err
	}
	return tx.decRef(ctx, h)
}

// incRef increments h. A 0 to 1 transition makes h live and increments
// each of its children.
func (tx *Tx) incRef(ctx context.Context, h ir.Hash, parent string) error {
	n, err := tx.w.RefCount(ctx, h)
	if err != nil {
		return err
	}
	if n == 0 {
		c, ok, err := tx.w.GetChunk(ctx, h)
		if err != nil {
			return err
		}
		if !ok {
			return &CorruptGraphError{Hash: h, Parent: parent}
		}
		for _, ref := range c.Refs {
			if err := tx.incRef(ctx, ref, h.String()); err != nil {
				return err
			}
		}
	}
	return tx.w.SetRefCount(ctx, h, n+1)
}

// decRef decrements h. A 1 to 0 transition decrements each child.
func (tx *Tx) decRef(ctx context.Context, h ir.Hash) error {
	n, err := tx.w.RefCount(ctx, h)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("decrement %s: count is already %d", h.Short(), n)
	}
	if err := tx.w.SetRefCount(ctx, h, n-1); err != nil {
		return err
	}
	if n > 1 {
		return nil
	}
	c, ok, err := tx.w.GetChunk(ctx, h)
	if err != nil {
		return err
	}
	if !ok {
		return &CorruptGraphError{Hash: h, Parent: "refcount"}
	}
	for _, ref := range c.Refs {
		if err := tx.decRef(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}
