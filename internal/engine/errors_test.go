package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
)

func TestRuntimeError_Error(t *testing.T) {
	err := NewMutationIDRegressedError("c1", 4, 2)
	assert.Equal(t, "MUTATION_ID_REGRESSED: last mutation ID went from 4 to 2 (client=c1)", err.Error())

	cause := errors.New("boom")
	wrapped := NewRetriesExhaustedError("c1", "inc", 3, cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "boom")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		fatal     bool
	}{
		{
			name:      "contention",
			err:       fmt.Errorf("commit: %w", &chunk.ConcurrentModificationError{Head: "main"}),
			retryable: true,
		},
		{
			name:  "inconsistent mutation",
			err:   &commit.InconsistentMutationError{ClientID: "c1", Expected: 2, Actual: 3},
			fatal: true,
		},
		{
			name:  "corrupt graph",
			err:   fmt.Errorf("walk: %w", &chunk.CorruptGraphError{Hash: ir.ChunkHash(nil, nil)}),
			fatal: true,
		},
		{
			name:  "invalid cookie",
			err:   &cookie.InvalidCookieError{Reason: "array"},
			fatal: true,
		},
		{
			name:  "regressed",
			err:   NewMutationIDRegressedError("c1", 2, 1),
			fatal: true,
		},
		{
			name:  "invalid patch",
			err:   NewInvalidPatchError(0, "unknown op"),
			fatal: true,
		},
		{
			name: "retries exhausted",
			err:  NewRetriesExhaustedError("c1", "inc", 8, nil),
		},
		{
			name: "plain",
			err:  errors.New("other"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestIsNotInitialized(t *testing.T) {
	assert.True(t, IsNotInitialized(fmt.Errorf("head: %w", commit.ErrNoHead)))
	assert.True(t, IsNotInitialized(&RuntimeError{Code: ErrCodeNotInitialized}))
	assert.False(t, IsNotInitialized(errors.New("x")))
}
