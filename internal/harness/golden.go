package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replica/internal/ir"
)

// TraceSnapshot captures the trace and final state of a scenario
// execution. It is serialized as canonical JSON for golden comparison.
type TraceSnapshot struct {
	ScenarioName string              `json:"scenario_name"`
	ClientID     string              `json:"client_id"`
	Trace        []TraceEvent        `json:"trace"`
	State        map[string]ir.Value `json:"state"`
}

// toCanonical converts a TraceSnapshot to an ir.Object so that it can be
// written with ir.MarshalCanonical.
func (s *TraceSnapshot) toCanonical() ir.Object {
	trace := make(ir.Array, len(s.Trace))
	for i, ev := range s.Trace {
		pending := make(ir.Array, len(ev.Pending))
		for j, id := range ev.Pending {
			pending[j] = ir.Int(id)
		}
		obj := ir.Object{
			"seq":     ir.Int(ev.Seq),
			"kind":    ir.String(ev.Kind),
			"pending": pending,
		}
		switch ev.Kind {
		case KindMutate:
			obj["name"] = ir.String(ev.Name)
			if ev.Args != nil {
				obj["args"] = ev.Args
			}
			if ev.MutationID != 0 {
				obj["mutation_id"] = ir.Int(ev.MutationID)
			}
		case KindPull:
			if ev.Outcome != "" {
				obj["outcome"] = ir.String(ev.Outcome)
				obj["replayed"] = ir.Int(ev.Replayed)
				obj["dropped"] = ir.Int(ev.Dropped)
				obj["noops"] = ir.Int(ev.NoOps)
			}
		}
		if ev.Error != "" {
			obj["error"] = ir.String(ev.Error)
		}
		trace[i] = obj
	}

	state := make(ir.Object, len(s.State))
	for k, v := range s.State {
		state[k] = v
	}

	return ir.Object{
		"scenario_name": ir.String(s.ScenarioName),
		"client_id":     ir.String(s.ClientID),
		"trace":         trace,
		"state":         state,
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := assertGolden(t, scenario.Name, scenario.EffectiveClientID(), result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	return assertGolden(t, scenarioName, DefaultClientID, result)
}

func assertGolden(t *testing.T, name, clientID string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(name, clientID, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}

// MarshalTrace renders a result in golden file form.
func MarshalTrace(name, clientID string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		ClientID:     clientID,
		Trace:        result.Trace,
		State:        result.State,
	}
	return ir.MarshalCanonical(snapshot.toCanonical())
}
