package commit

import (
	"errors"
	"fmt"
)

// InconsistentMutationError reports a mutation whose ID is not exactly one
// more than the last ID recorded for its client on the basis. The commit
// graph has been corrupted or reordered; the operation must not proceed.
type InconsistentMutationError struct {
	ClientID    string
	MutatorName string
	Expected    uint64
	Actual      uint64
}

func (e *InconsistentMutationError) Error() string {
	return fmt.Sprintf("inconsistent mutation ID for client %q (mutator %q): expected %d, got %d",
		e.ClientID, e.MutatorName, e.Expected, e.Actual)
}

// IsInconsistentMutation reports whether err is, or wraps, an
// *InconsistentMutationError.
func IsInconsistentMutation(err error) bool {
	var im *InconsistentMutationError
	return errors.As(err, &im)
}
