package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		switch ev.Kind {
		case KindMutate:
			fmt.Fprintf(&buf, "  [%d] mutate %s id=%d pending=%v", ev.Seq, ev.Name, ev.MutationID, ev.Pending)
		case KindPull:
			fmt.Fprintf(&buf, "  [%d] pull %s pending=%v", ev.Seq, ev.Outcome, ev.Pending)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " error=%q", ev.Error)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// AssertionContext gives state assertions access to the replica.
type AssertionContext struct {
	Replica *engine.Replica
	Ctx     context.Context
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. Assertions that need the replica fail when actx is nil.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalValue:
			err = assertFinalValue(result, a)
		case AssertPending:
			err = assertPending(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result, a)
		case AssertLastMutationID:
			err = assertLastMutationID(result.Trace, a, actx)
		case AssertCookie:
			err = assertCookie(result.Trace, a, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

// assertFinalValue checks a key in the final state.
func assertFinalValue(result *Result, a Assertion) error {
	got, ok := result.State[a.Key]
	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertFinalValue,
				Expected: fmt.Sprintf("key %q absent", a.Key),
				Actual:   fmt.Sprintf("present with %s", formatValue(got)),
				Trace:    result.Trace,
			}
		}
		return nil
	}

	want, err := ir.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("invalid expected value: %w", err)
	}
	if !ok {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("key %q = %s", a.Key, formatValue(want)),
			Actual:   "key absent",
			Trace:    result.Trace,
		}
	}
	if !ir.Equal(want, got) {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("key %q = %s", a.Key, formatValue(want)),
			Actual:   formatValue(got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertPending checks the pending queue after the last step.
func assertPending(trace []TraceEvent, a Assertion) error {
	var got []uint64
	if len(trace) > 0 {
		got = trace[len(trace)-1].Pending
	}
	want := a.IDs
	if want == nil {
		want = []uint64{}
	}
	if got == nil {
		got = []uint64{}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("pending %v", want),
			Actual:   fmt.Sprintf("pending %v", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks the number of steps of a kind.
func assertTraceCount(result *Result, a Assertion) error {
	if n := result.Count(a.Kind); n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s steps", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d %s steps", n, a.Kind),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertLastMutationID(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	if actx == nil || actx.Replica == nil {
		return fmt.Errorf("no replica available for %s", AssertLastMutationID)
	}
	got, err := actx.Replica.LastMutationID(actx.Ctx, a.Client)
	if err != nil {
		return fmt.Errorf("read last mutation ID: %w", err)
	}
	if got != uint64(a.Count) {
		return &AssertionError{
			Type:     AssertLastMutationID,
			Expected: fmt.Sprintf("client %q at %d", a.Client, a.Count),
			Actual:   fmt.Sprintf("client %q at %d", a.Client, got),
			Trace:    trace,
		}
	}
	return nil
}

func assertCookie(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	if actx == nil || actx.Replica == nil {
		return fmt.Errorf("no replica available for %s", AssertCookie)
	}
	want, err := cookie.FromGo(a.Cookie)
	if err != nil {
		return fmt.Errorf("invalid expected cookie: %w", err)
	}
	got, err := actx.Replica.Cookie(actx.Ctx)
	if err != nil {
		return fmt.Errorf("read cookie: %w", err)
	}
	if !cookie.Equal(want, got) {
		return &AssertionError{
			Type:     AssertCookie,
			Expected: want.String(),
			Actual:   got.String(),
			Trace:    trace,
		}
	}
	return nil
}

func formatValue(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%s>", ir.KindOf(v))
	}
	return string(b)
}
