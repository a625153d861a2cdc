// Package chunk provides content-addressed, write-once storage of chunks
// with named heads, pins and reference-counted garbage collection.
//
// A chunk is a byte payload plus an ordered list of the hashes it
// references. Its address is ir.ChunkHash(data, refs), so storing the same
// content twice is a no-op that returns the same hash.
//
// # Reference counting
//
// Roots are heads and pins. The count of a chunk is
//
//	(heads pointing at it) + (pins on it) + (live chunks listing it in refs)
//
// where a chunk is live when its own count is positive. A count rising
// from 0 to 1 increments every child; falling from 1 to 0 decrements every
// child. Putting a chunk never touches counts. Chunks at 0 stay readable
// until Collect deletes them, and Collect never deletes a chunk whose
// count is positive.
//
// All mutation goes through Store.Update, which runs in a single backend
// transaction: chunk puts, head moves and pin changes commit together or
// not at all.
package chunk

import (
	"context"

	"github.com/roach88/replica/internal/ir"
)

// Chunk is an immutable unit of storage. Data and Refs must not be
// modified after the chunk is created.
type Chunk struct {
	Hash ir.Hash
	Data []byte
	Refs []ir.Hash
}

// New builds a chunk and computes its hash.
func New(data []byte, refs []ir.Hash) Chunk {
	return Chunk{
		Hash: ir.ChunkHash(data, refs),
		Data: data,
		Refs: refs,
	}
}

// Reader reads chunks by hash.
type Reader interface {
	Get(ctx context.Context, h ir.Hash) (Chunk, error)
	Has(ctx context.Context, h ir.Hash) (bool, error)
}

// Writer stores chunks.
type Writer interface {
	Reader
	Put(ctx context.Context, data []byte, refs []ir.Hash) (ir.Hash, error)
}
