// Package mutator defines named mutation functions and the registry the
// replica resolves them from, both when a mutation first runs and when it
// is replayed during rebase.
package mutator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/replica/internal/ir"
)

var (
	// ErrUnknownMutator is returned when a name is not registered.
	ErrUnknownMutator = errors.New("unknown mutator")

	// ErrDuplicateMutator is returned when a name is registered twice.
	ErrDuplicateMutator = errors.New("mutator already registered")
)

// Reason says why a mutator is running.
type Reason int

const (
	// ReasonInitial is the first execution, requested by the application.
	ReasonInitial Reason = iota
	// ReasonRebase is a replay onto a new snapshot.
	ReasonRebase
)

func (r Reason) String() string {
	switch r {
	case ReasonInitial:
		return "initial"
	case ReasonRebase:
		return "rebase"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Tx is the mutable key/value view a mutator runs against. Writes are
// buffered and become visible to later reads in the same Tx.
type Tx interface {
	ClientID() string
	MutationID() uint64
	Reason() Reason

	Get(ctx context.Context, key string) (ir.Value, bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, v ir.Value) error
	// Del removes key and reports whether it was present.
	Del(ctx context.Context, key string) (bool, error)
}

// Mutator applies one named mutation. It must be deterministic given the
// same Tx contents and args, since it is replayed during rebase.
type Mutator interface {
	Mutate(ctx context.Context, tx Tx, args ir.Value) error
}

// Func adapts a function to Mutator.
type Func func(ctx context.Context, tx Tx, args ir.Value) error

func (f Func) Mutate(ctx context.Context, tx Tx, args ir.Value) error {
	return f(ctx, tx, args)
}

// Noop does nothing. It stands in for mutators missing at replay time.
var Noop Mutator = Func(func(context.Context, Tx, ir.Value) error { return nil })

// Registry maps names to mutators. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	mutators map[string]Mutator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mutators: make(map[string]Mutator)}
}

// Register adds m under name.
func (r *Registry) Register(name string, m Mutator) error {
	if name == "" {
		return errors.New("mutator name is empty")
	}
	if m == nil {
		return fmt.Errorf("mutator %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mutators[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateMutator, name)
	}
	r.mutators[name] = m
	return nil
}

// RegisterFunc adds f under name.
func (r *Registry) RegisterFunc(name string, f func(ctx context.Context, tx Tx, args ir.Value) error) error {
	return r.Register(name, Func(f))
}

// Lookup returns the mutator registered under name.
func (r *Registry) Lookup(name string) (Mutator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mutators[name]
	return m, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mutators))
	for name := range r.mutators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered mutators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mutators)
}
