package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
)

// RuntimeError represents a replica operation that could not complete.
//
// Runtime errors include:
//   - Retries exhausted: the head kept moving under Mutate
//   - Mutation ID regressed: a pull lowered a client's last mutation ID
//   - Invalid patch: a pull carried an unknown or malformed patch op
//   - Not initialized: the head does not exist yet
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ClientID identifies the affected client, when there is one.
	ClientID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeRetriesExhausted indicates Mutate lost every compare-and-swap.
	ErrCodeRetriesExhausted RuntimeErrorCode = "RETRIES_EXHAUSTED"

	// ErrCodeMutationIDRegressed indicates a pull moved a last mutation ID backwards.
	ErrCodeMutationIDRegressed RuntimeErrorCode = "MUTATION_ID_REGRESSED"

	// ErrCodeMutationIDOutOfRange indicates a pull carried a last mutation ID
	// that cannot be stored as a signed 64-bit integer.
	ErrCodeMutationIDOutOfRange RuntimeErrorCode = "MUTATION_ID_OUT_OF_RANGE"

	// ErrCodeInvalidPatch indicates a pull patch op is malformed.
	ErrCodeInvalidPatch RuntimeErrorCode = "INVALID_PATCH"

	// ErrCodeNotInitialized indicates the replica head is missing.
	ErrCodeNotInitialized RuntimeErrorCode = "NOT_INITIALIZED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ClientID != "" {
		msg = fmt.Sprintf("%s (client=%s)", msg, e.ClientID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsRetryable reports whether err is head contention. The caller should
// re-read the head and try again; it is not a failure of local state.
func IsRetryable(err error) bool {
	return chunk.IsConcurrentModification(err)
}

// IsFatal reports whether err means local state or pulled data is suspect
// and the current sync must stop. Fatal errors are never retried.
func IsFatal(err error) bool {
	return commit.IsInconsistentMutation(err) ||
		chunk.IsCorruptGraph(err) ||
		cookie.IsInvalid(err) ||
		hasCode(err, ErrCodeMutationIDRegressed) ||
		hasCode(err, ErrCodeMutationIDOutOfRange) ||
		hasCode(err, ErrCodeInvalidPatch)
}

// IsNotInitialized reports whether err means Init has not run.
func IsNotInitialized(err error) bool {
	return hasCode(err, ErrCodeNotInitialized) || errors.Is(err, commit.ErrNoHead)
}

// NewRetriesExhaustedError creates a RuntimeError for Mutate giving up.
func NewRetriesExhaustedError(clientID, mutator string, attempts int, last error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeRetriesExhausted,
		Message:  fmt.Sprintf("mutation %q lost %d head races", mutator, attempts),
		ClientID: clientID,
		Details: map[string]string{
			"mutator":  mutator,
			"attempts": fmt.Sprintf("%d", attempts),
		},
		Err: last,
	}
}

// NewMutationIDRegressedError creates a RuntimeError for a pull that lowers
// a client's last mutation ID.
func NewMutationIDRegressedError(clientID string, have, got uint64) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeMutationIDRegressed,
		Message:  fmt.Sprintf("last mutation ID went from %d to %d", have, got),
		ClientID: clientID,
		Details: map[string]string{
			"have": fmt.Sprintf("%d", have),
			"got":  fmt.Sprintf("%d", got),
		},
	}
}

// NewMutationIDOutOfRangeError creates a RuntimeError for a pulled last
// mutation ID above math.MaxInt64.
func NewMutationIDOutOfRangeError(clientID string, got uint64) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeMutationIDOutOfRange,
		Message:  fmt.Sprintf("last mutation ID %d exceeds %d", got, uint64(math.MaxInt64)),
		ClientID: clientID,
		Details:  map[string]string{"got": fmt.Sprintf("%d", got)},
	}
}

// NewInvalidPatchError creates a RuntimeError for a malformed patch op.
func NewInvalidPatchError(index int, reason string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidPatch,
		Message: fmt.Sprintf("patch[%d]: %s", index, reason),
		Details: map[string]string{"index": fmt.Sprintf("%d", index)},
	}
}
