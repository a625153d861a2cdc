package compiler

import (
	"context"

	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
)

// mapTx is an in-memory mutator.Tx for exercising compiled mutators
// without a chunk store.
type mapTx struct {
	data map[string]ir.Value
}

func newMapTx() *mapTx {
	return &mapTx{data: make(map[string]ir.Value)}
}

func (tx *mapTx) ClientID() string       { return "test" }
func (tx *mapTx) MutationID() uint64     { return 1 }
func (tx *mapTx) Reason() mutator.Reason { return mutator.ReasonInitial }

func (tx *mapTx) Has(_ context.Context, key string) (bool, error) {
	_, ok := tx.data[key]
	return ok, nil
}

func (tx *mapTx) Get(_ context.Context, key string) (ir.Value, bool, error) {
	v, ok := tx.data[key]
	return v, ok, nil
}

func (tx *mapTx) Put(_ context.Context, key string, v ir.Value) error {
	tx.data[key] = v
	return nil
}

func (tx *mapTx) Del(_ context.Context, key string) (bool, error) {
	_, ok := tx.data[key]
	delete(tx.data, key)
	return ok, nil
}

var _ mutator.Tx = (*mapTx)(nil)
