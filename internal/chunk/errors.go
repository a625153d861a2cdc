package chunk

import (
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/ir"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("chunk store is closed")

// NotFoundError reports a hash that is unknown or has been collected.
type NotFoundError struct {
	Hash ir.Hash
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("chunk not found: %s", e.Hash)
}

// CorruptGraphError reports a chunk that is referenced by another stored
// chunk but is missing. The local graph can no longer be trusted.
type CorruptGraphError struct {
	// Hash is the missing chunk.
	Hash ir.Hash
	// Parent is the chunk (or head) that references it.
	Parent string
}

func (e *CorruptGraphError) Error() string {
	return fmt.Sprintf("corrupt graph: chunk %s referenced by %s is missing", e.Hash, e.Parent)
}

// ConcurrentModificationError reports a head that moved between the time a
// writer read its basis and the time it tried to commit. Callers re-read
// the head and retry.
type ConcurrentModificationError struct {
	Head     string
	Expected ir.Hash
	Actual   ir.Hash
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of head %q: expected %s, found %s",
		e.Head, describe(e.Expected), describe(e.Actual))
}

func describe(h ir.Hash) string {
	if h.IsEmpty() {
		return "<none>"
	}
	return h.Short()
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsCorruptGraph reports whether err is, or wraps, a *CorruptGraphError.
func IsCorruptGraph(err error) bool {
	var cg *CorruptGraphError
	return errors.As(err, &cg)
}

// IsConcurrentModification reports whether err is, or wraps, a
// *ConcurrentModificationError.
func IsConcurrentModification(err error) bool {
	var cm *ConcurrentModificationError
	return errors.As(err, &cm)
}
