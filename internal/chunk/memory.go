package chunk

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/replica/internal/ir"
)

// MemoryBackend keeps chunks in maps. Writers are serialized; an Update
// buffers its writes in an overlay that is applied only when the callback
// succeeds.
type MemoryBackend struct {
	mu     sync.RWMutex
	chunks map[ir.Hash]Chunk
	counts map[ir.Hash]int64
	pins   map[ir.Hash]int64
	heads  map[string]ir.Hash
	closed bool
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		chunks: make(map[ir.Hash]Chunk),
		counts: make(map[ir.Hash]int64),
		pins:   make(map[ir.Hash]int64),
		heads:  make(map[string]ir.Hash),
	}
}

func (b *MemoryBackend) View(ctx context.Context, fn func(BackendReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return fn(&memTx{base: b})
}

func (b *MemoryBackend) Update(ctx context.Context, fn func(BackendWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	tx := &memTx{
		base:   b,
		chunks: make(map[ir.Hash]*Chunk),
		counts: make(map[ir.Hash]int64),
		pins:   make(map[ir.Hash]int64),
		heads:  make(map[string]*ir.Hash),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// memTx reads through an overlay to the base maps. A nil chunk or head
// pointer in the overlay marks a deletion. The overlay maps are nil for
// read-only transactions.
type memTx struct {
	base   *MemoryBackend
	chunks map[ir.Hash]*Chunk
	counts map[ir.Hash]int64
	pins   map[ir.Hash]int64
	heads  map[string]*ir.Hash
}

func (t *memTx) GetChunk(_ context.Context, h ir.Hash) (Chunk, bool, error) {
	if c, ok := t.chunks[h]; ok {
		if c == nil {
			return Chunk{}, false, nil
		}
		return *c, true, nil
	}
	c, ok := t.base.chunks[h]
	return c, ok, nil
}

func (t *memTx) RefCount(_ context.Context, h ir.Hash) (int64, error) {
	if n, ok := t.counts[h]; ok {
		return n, nil
	}
	return t.base.counts[h], nil
}

func (t *memTx) PinCount(_ context.Context, h ir.Hash) (int64, error) {
	if n, ok := t.pins[h]; ok {
		return n, nil
	}
	return t.base.pins[h], nil
}

func (t *memTx) GetHead(_ context.Context, name string) (ir.Hash, bool, error) {
	if h, ok := t.heads[name]; ok {
		if h == nil {
			return "", false, nil
		}
		return *h, true, nil
	}
	h, ok := t.base.heads[name]
	return h, ok, nil
}

func (t *memTx) Heads(ctx context.Context) (map[string]ir.Hash, error) {
	out := make(map[string]ir.Hash, len(t.base.heads))
	for name := range t.base.heads {
		if h, ok, _ := t.GetHead(ctx, name); ok {
			out[name] = h
		}
	}
	for name, h := range t.heads {
		if h != nil {
			out[name] = *h
		}
	}
	return out, nil
}

func (t *memTx) Unreferenced(ctx context.Context) ([]ir.Hash, error) {
	var out []ir.Hash
	check := func(h ir.Hash) {
		if _, ok, _ := t.GetChunk(ctx, h); !ok {
			return
		}
		if n, _ := t.RefCount(ctx, h); n == 0 {
			out = append(out, h)
		}
	}
	for h := range t.base.chunks {
		check(h)
	}
	for h, c := range t.chunks {
		if _, inBase := t.base.chunks[h]; !inBase && c != nil {
			check(h)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) ChunkCount(ctx context.Context) (int, error) {
	n := len(t.base.chunks)
	for h, c := range t.chunks {
		_, inBase := t.base.chunks[h]
		switch {
		case c == nil && inBase:
			n--
		case c != nil && !inBase:
			n++
		}
	}
	return n, nil
}

func (t *memTx) PutChunk(ctx context.Context, c Chunk) error {
	if _, ok, _ := t.GetChunk(ctx, c.Hash); ok {
		return nil
	}
	cp := Chunk{
		Hash: c.Hash,
		Data: slices.Clone(c.Data),
		Refs: slices.Clone(c.Refs),
	}
	t.chunks[c.Hash] = &cp
	t.counts[c.Hash] = 0
	return nil
}

func (t *memTx) DeleteChunk(_ context.Context, h ir.Hash) error {
	t.chunks[h] = nil
	t.counts[h] = 0
	return nil
}

func (t *memTx) SetRefCount(_ context.Context, h ir.Hash, n int64) error {
	t.counts[h] = n
	return nil
}

func (t *memTx) SetPinCount(_ context.Context, h ir.Hash, n int64) error {
	t.pins[h] = n
	return nil
}

func (t *memTx) SetHead(_ context.Context, name string, h ir.Hash) error {
	t.heads[name] = &h
	return nil
}

func (t *memTx) DeleteHead(_ context.Context, name string) error {
	t.heads[name] = nil
	return nil
}

func (t *memTx) apply() {
	b := t.base
	for h, c := range t.chunks {
		if c == nil {
			delete(b.chunks, h)
			delete(b.counts, h)
			continue
		}
		b.chunks[h] = *c
	}
	for h, n := range t.counts {
		if _, ok := b.chunks[h]; !ok {
			continue
		}
		b.counts[h] = n
	}
	for h, n := range t.pins {
		if n == 0 {
			delete(b.pins, h)
			continue
		}
		b.pins[h] = n
	}
	for name, h := range t.heads {
		if h == nil {
			delete(b.heads, name)
			continue
		}
		b.heads[name] = *h
	}
}
