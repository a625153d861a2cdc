package harness

import "github.com/roach88/replica/internal/ir"

// Trace event kinds.
const (
	KindMutate = "mutate"
	KindPull   = "pull"
)

// TraceEvent records one executed step and the pending queue after it.
type TraceEvent struct {
	Seq        int64    `json:"seq"`
	Kind       string   `json:"kind"` // "mutate" or "pull"
	Name       string   `json:"name,omitempty"`
	Args       ir.Value `json:"args,omitempty"`
	MutationID uint64   `json:"mutation_id,omitempty"`
	Outcome    string   `json:"outcome,omitempty"`
	Replayed   int      `json:"replayed,omitempty"`
	Dropped    int      `json:"dropped,omitempty"`
	NoOps      int      `json:"noops,omitempty"`
	Error      string   `json:"error,omitempty"`
	Pending    []uint64 `json:"pending"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace has one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the replica's key/value map after the last step.
	State map[string]ir.Value `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ir.Value),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it after the previous one.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	if ev.Pending == nil {
		ev.Pending = []uint64{}
	}
	r.Trace = append(r.Trace, ev)
}

// Count returns the number of trace events of kind.
func (r *Result) Count(kind string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
