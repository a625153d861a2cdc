package chunk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/replica/internal/ir"
)

// Store is the content-addressed chunk store. It is safe for concurrent
// use; serialization of writers is delegated to the backend.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for collection reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore wraps a backend.
func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{backend: b, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemoryStore returns a Store over a fresh MemoryBackend.
func NewMemoryStore(opts ...Option) *Store {
	return NewStore(NewMemoryBackend(), opts...)
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Get returns the chunk stored under h.
func (s *Store) Get(ctx context.Context, h ir.Hash) (Chunk, error) {
	var c Chunk
	err := s.backend.View(ctx, func(r BackendReader) error {
		var err error
		c, err = getChunk(ctx, r, h)
		return err
	})
	return c, err
}

// Has reports whether a chunk is stored under h.
func (s *Store) Has(ctx context.Context, h ir.Hash) (bool, error) {
	var ok bool
	err := s.backend.View(ctx, func(r BackendReader) error {
		var err error
		_, ok, err = r.GetChunk(ctx, h)
		return err
	})
	return ok, err
}

// Put stores a chunk in its own transaction. The chunk starts unreferenced
// and is eligible for collection until a head, pin or live parent reaches
// it.
func (s *Store) Put(ctx context.Context, data []byte, refs []ir.Hash) (ir.Hash, error) {
	var h ir.Hash
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		h, err = tx.Put(ctx, data, refs)
		return err
	})
	return h, err
}

// Head returns the hash a head points at, or false if it does not exist.
func (s *Store) Head(ctx context.Context, name string) (ir.Hash, bool, error) {
	var (
		h  ir.Hash
		ok bool
	)
	err := s.backend.View(ctx, func(r BackendReader) error {
		var err error
		h, ok, err = r.GetHead(ctx, name)
		return err
	})
	return h, ok, err
}

// Heads returns every head.
func (s *Store) Heads(ctx context.Context) (map[string]ir.Hash, error) {
	var heads map[string]ir.Hash
	err := s.backend.View(ctx, func(r BackendReader) error {
		var err error
		heads, err = r.Heads(ctx)
		return err
	})
	return heads, err
}

// RefCount returns the reference count of h.
func (s *Store) RefCount(ctx context.Context, h ir.Hash) (int64, error) {
	var n int64
	err := s.backend.View(ctx, func(r BackendReader) error {
		var err error
		n, err = r.RefCount(ctx, h)
		return err
	})
	return n, err
}

// Update runs fn in one atomic write transaction. If fn returns an error,
// every chunk, head and pin change made through tx is discarded.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.backend.Update(ctx, func(w BackendWriter) error {
		return fn(&Tx{w: w})
	})
}

// Pin adds a root on h independent of any head.
func (s *Store) Pin(ctx context.Context, h ir.Hash) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Pin(ctx, h)
	})
}

// Unpin removes one pin added by Pin.
func (s *Store) Unpin(ctx context.Context, h ir.Hash) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Unpin(ctx, h)
	})
}

// Collect deletes every chunk whose reference count is 0 and returns how
// many were deleted. Chunks reachable from a head or pin always have a
// positive count and are never deleted.
func (s *Store) Collect(ctx context.Context) (int, error) {
	var deleted int
	err := s.backend.Update(ctx, func(w BackendWriter) error {
		hashes, err := w.Unreferenced(ctx)
		if err != nil {
			return fmt.Errorf("list unreferenced: %w", err)
		}
		for _, h := range hashes {
			if err := w.DeleteChunk(ctx, h); err != nil {
				return fmt.Errorf("delete %s: %w", h.Short(), err)
			}
		}
		deleted = len(hashes)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("chunks collected", "count", deleted)
	return deleted, nil
}

// Stats describes the contents of a store.
type Stats struct {
	Chunks       int
	Unreferenced int
	Heads        int
}

// Stats counts stored chunks and heads.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.backend.View(ctx, func(r BackendReader) error {
		n, err := r.ChunkCount(ctx)
		if err != nil {
			return err
		}
		unref, err := r.Unreferenced(ctx)
		if err != nil {
			return err
		}
		heads, err := r.Heads(ctx)
		if err != nil {
			return err
		}
		st = Stats{Chunks: n, Unreferenced: len(unref), Heads: len(heads)}
		return nil
	})
	return st, err
}

func getChunk(ctx context.Context, r BackendReader, h ir.Hash) (Chunk, error) {
	c, ok, err := r.GetChunk(ctx, h)
	if err != nil {
		return Chunk{}, err
	}
	if !ok {
		return Chunk{}, &NotFoundError{Hash: h}
	}
	return c, nil
}

var (
	_ Writer = (*Store)(nil)
	_ Writer = (*Tx)(nil)
)
