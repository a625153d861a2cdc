package chunk

import (
	"context"

	"github.com/roach88/replica/internal/ir"
)

// Backend is the persistence engine under a Store. Implementations only
// provide transactional primitives; reference counting, head validation
// and collection are implemented once, in this package.
//
// Implementations: MemoryBackend (this package), store.SQLiteBackend,
// badgerstore.Backend.
type Backend interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(BackendReader) error) error

	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing it wrote is persisted.
	Update(ctx context.Context, fn func(BackendWriter) error) error

	Close() error
}

// BackendReader exposes the read primitives of a backend transaction.
type BackendReader interface {
	// GetChunk returns the chunk and true, or false if it is absent.
	GetChunk(ctx context.Context, h ir.Hash) (Chunk, bool, error)

	// RefCount returns the stored count, 0 for unknown hashes.
	RefCount(ctx context.Context, h ir.Hash) (int64, error)

	// PinCount returns the number of pins on h.
	PinCount(ctx context.Context, h ir.Hash) (int64, error)

	// GetHead returns the hash a head points at and true, or false if the
	// head does not exist.
	GetHead(ctx context.Context, name string) (ir.Hash, bool, error)

	// Heads returns every head.
	Heads(ctx context.Context) (map[string]ir.Hash, error)

	// Unreferenced returns the hashes of stored chunks whose count is 0,
	// in ascending hash order.
	Unreferenced(ctx context.Context) ([]ir.Hash, error)

	// ChunkCount returns the number of stored chunks.
	ChunkCount(ctx context.Context) (int, error)
}

// BackendWriter adds the write primitives of a backend transaction.
type BackendWriter interface {
	BackendReader

	// PutChunk stores c with count 0. Storing an existing hash is a no-op.
	PutChunk(ctx context.Context, c Chunk) error

	// DeleteChunk removes a chunk and its count.
	DeleteChunk(ctx context.Context, h ir.Hash) error

	// SetRefCount records the count of a stored chunk.
	SetRefCount(ctx context.Context, h ir.Hash, n int64) error

	// SetPinCount records the pins on h; 0 removes the record.
	SetPinCount(ctx context.Context, h ir.Hash, n int64) error

	SetHead(ctx context.Context, name string, h ir.Hash) error
	DeleteHead(ctx context.Context, name string) error
}
