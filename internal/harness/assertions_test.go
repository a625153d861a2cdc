package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
)

func sampleResult() *Result {
	r := NewResult()
	r.AddTrace(TraceEvent{Kind: KindMutate, Name: "inc", MutationID: 1, Pending: []uint64{1}})
	r.AddTrace(TraceEvent{Kind: KindMutate, Name: "inc", MutationID: 2, Pending: []uint64{1, 2}})
	r.AddTrace(TraceEvent{Kind: KindPull, Outcome: "applied", Pending: []uint64{2}})
	r.State["n"] = ir.Int(4)
	r.State["tags"] = ir.Array{ir.String("a")}
	return r
}

func TestResultAddTrace(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Kind: KindPull, Seq: 99})
	r.AddTrace(TraceEvent{Kind: KindPull})

	assert.Equal(t, int64(1), r.Trace[0].Seq, "seq is assigned")
	assert.Equal(t, int64(2), r.Trace[1].Seq)
	assert.NotNil(t, r.Trace[0].Pending)
	assert.Equal(t, 2, r.Count(KindPull))
	assert.Equal(t, 0, r.Count(KindMutate))

	assert.True(t, r.Pass)
	r.AddError("x")
	assert.False(t, r.Pass)
}

func TestAssertFinalValue(t *testing.T) {
	r := sampleResult()

	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"int match", Assertion{Key: "n", Value: 4}, true},
		{"int mismatch", Assertion{Key: "n", Value: 5}, false},
		{"array match", Assertion{Key: "tags", Value: []any{"a"}}, true},
		{"missing", Assertion{Key: "zz", Value: 1}, false},
		{"absent", Assertion{Key: "zz", Absent: true}, true},
		{"not absent", Assertion{Key: "n", Absent: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertFinalValue
			err := assertFinalValue(r, tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AssertFinalValue, ae.Type)
		})
	}
}

func TestAssertPending(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertPending(r.Trace, Assertion{IDs: []uint64{2}}))
	assert.Error(t, assertPending(r.Trace, Assertion{IDs: []uint64{1, 2}}))
	assert.Error(t, assertPending(r.Trace, Assertion{}))
	assert.NoError(t, assertPending(nil, Assertion{}), "no steps means nothing pending")
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceCount(r, Assertion{Kind: KindMutate, Count: 2}))
	assert.NoError(t, assertTraceCount(r, Assertion{Kind: KindPull, Count: 1}))
	assert.Error(t, assertTraceCount(r, Assertion{Kind: KindPull, Count: 2}))
}

func TestEvaluateAssertions_NeedsReplica(t *testing.T) {
	r := sampleResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertLastMutationID, Client: "c1", Count: 1},
		{Type: AssertCookie, Cookie: 1},
		{Type: AssertFinalValue, Key: "n", Value: 4},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "no replica available")
	assert.Contains(t, errs[1], "no replica available")
}

func TestAssertionErrorMessage(t *testing.T) {
	r := sampleResult()
	r.Trace[2].Error = "boom"
	err := &AssertionError{Type: AssertPending, Expected: "pending [1]", Actual: "pending [2]", Trace: r.Trace}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: pending")
	assert.Contains(t, msg, "Expected: pending [1]")
	assert.Contains(t, msg, "[1] mutate inc id=1 pending=[1]")
	assert.Contains(t, msg, `[3] pull applied pending=[2] error="boom"`)
}
