package mutator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.RegisterFunc("b", func(context.Context, Tx, ir.Value) error {
		called = true
		return nil
	}))
	require.NoError(t, r.Register("a", Noop))

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Len())

	m, ok := r.Lookup("b")
	require.True(t, ok)
	require.NoError(t, m.Mutate(context.Background(), nil, ir.Null{}))
	assert.True(t, called)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterRejects(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("inc", Noop))

	err := r.Register("inc", Noop)
	assert.True(t, errors.Is(err, ErrDuplicateMutator))

	assert.Error(t, r.Register("", Noop))
	assert.Error(t, r.Register("nil", nil))
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "initial", ReasonInitial.String())
	assert.Equal(t, "rebase", ReasonRebase.String())
	assert.Equal(t, "Reason(9)", Reason(9).String())
}
