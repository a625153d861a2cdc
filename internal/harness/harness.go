package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/compiler"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/testutil"
)

// Harness executes one scenario against one replica.
type Harness struct {
	replica *engine.Replica
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh memory store. Execution flow:
//  1. Compile the scenario's mutators and register them
//  2. Create and initialize the replica
//  3. Execute steps, checking expect clauses
//  4. Capture the final key/value map and evaluate assertions
//
// A non-nil error means the scenario could not be executed at all;
// expectation and assertion failures are reported on the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg := mutator.NewRegistry()
	loaded, err := compiler.LoadDir(scenario.Mutators)
	if err != nil {
		return nil, fmt.Errorf("failed to load mutators: %w", err)
	}
	if err := compiler.Register(reg, loaded.Mutators); err != nil {
		return nil, fmt.Errorf("failed to register mutators: %w", err)
	}

	st := chunk.NewMemoryStore()
	defer st.Close()

	h := &Harness{
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	h.replica = engine.New(st, reg,
		engine.WithClientIDGenerator(testutil.NewFixedClientIDGenerator(scenario.ClientID)),
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
	)
	if _, err := h.replica.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize replica: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	entries, err := h.replica.Scan(ctx, engine.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	for _, e := range entries {
		result.State[e.Key] = e.Value
	}

	actx := &AssertionContext{Replica: h.replica, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and appends its trace event. Step failures
// become trace errors; only failures of the harness itself are returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	var ev TraceEvent
	var stepErr error

	switch step.Kind() {
	case KindMutate:
		args, err := ir.FromGo(step.Args)
		if err != nil {
			return fmt.Errorf("failed to convert args: %w", err)
		}
		ev = TraceEvent{Kind: KindMutate, Name: step.Mutate, Args: args}

		res, err := h.replica.Mutate(ctx, step.Mutate, args)
		if err != nil {
			stepErr = err
		} else {
			ev.MutationID = res.MutationID
		}

	case KindPull:
		resp, err := toPullResponse(step.Pull)
		if err != nil {
			return fmt.Errorf("failed to convert pull: %w", err)
		}
		ev = TraceEvent{Kind: KindPull}

		res, err := h.replica.ApplyPull(ctx, resp)
		if err != nil {
			stepErr = err
		} else {
			ev.Outcome = res.Outcome.String()
			ev.Replayed = res.Replayed
			ev.Dropped = res.Dropped
			ev.NoOps = res.NoOps
		}
	}

	if stepErr != nil {
		ev.Error = stepErr.Error()
	}

	pending, err := h.replica.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending mutations: %w", err)
	}
	for _, p := range pending {
		ev.Pending = append(ev.Pending, p.MutationID)
	}
	result.AddTrace(ev)

	for _, msg := range checkExpect(index, step.Expect, ev, stepErr) {
		result.AddError(msg)
	}

	h.logger.Info("scenario step completed",
		"step", index,
		"kind", ev.Kind,
		"pending", len(ev.Pending),
		"error", ev.Error,
	)
	return nil
}

func checkExpect(index int, expect *ExpectClause, ev TraceEvent, stepErr error) []string {
	var errs []string
	if expect == nil || expect.Error == "" {
		if stepErr != nil {
			errs = append(errs, fmt.Sprintf("step %d (%s): unexpected error: %v", index, ev.Kind, stepErr))
		}
	} else {
		switch {
		case stepErr == nil:
			errs = append(errs, fmt.Sprintf("step %d (%s): expected error containing %q, got success", index, ev.Kind, expect.Error))
		case !strings.Contains(stepErr.Error(), expect.Error):
			errs = append(errs, fmt.Sprintf("step %d (%s): expected error containing %q, got %q", index, ev.Kind, expect.Error, stepErr.Error()))
		}
	}
	if expect == nil {
		return errs
	}

	if expect.MutationID != 0 && expect.MutationID != ev.MutationID {
		errs = append(errs, fmt.Sprintf("step %d (mutate): expected mutation_id %d, got %d", index, expect.MutationID, ev.MutationID))
	}
	if expect.Outcome != "" && expect.Outcome != ev.Outcome {
		errs = append(errs, fmt.Sprintf("step %d (pull): expected outcome %q, got %q", index, expect.Outcome, ev.Outcome))
	}
	return errs
}

// toPullResponse converts the YAML pull step to the engine's response.
func toPullResponse(p *PullStep) (engine.PullResponse, error) {
	ck, err := cookie.FromGo(p.Cookie)
	if err != nil {
		return engine.PullResponse{}, err
	}
	resp := engine.PullResponse{
		Cookie:                ck,
		LastMutationIDChanges: p.LastMutationIDs,
	}
	for i, ps := range p.Patch {
		op := engine.PatchOp{Op: ps.Op, Key: ps.Key}
		if ps.Op == engine.PatchPut {
			v, err := ir.FromGo(ps.Value)
			if err != nil {
				return engine.PullResponse{}, fmt.Errorf("patch[%d]: %w", i, err)
			}
			op.Value = v
		}
		resp.Patch = append(resp.Patch, op)
	}
	return resp, nil
}
