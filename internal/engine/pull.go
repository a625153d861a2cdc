package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/txn"
)

// Patch operations.
const (
	PatchPut   = "put"
	PatchDel   = "del"
	PatchClear = "clear"
)

// PatchOp is one change a pull applies to the base snapshot's map.
type PatchOp struct {
	Op    string   `json:"op"`
	Key   string   `json:"key,omitempty"`
	Value ir.Value `json:"value,omitempty"`
}

// UnmarshalJSON decodes an op, parsing its value into the ir model.
func (p *PatchOp) UnmarshalJSON(data []byte) error {
	var raw struct {
		Op    string          `json:"op"`
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Op, p.Key, p.Value = raw.Op, raw.Key, nil
	if len(raw.Value) > 0 {
		v, err := ir.ParseJSON(raw.Value)
		if err != nil {
			return fmt.Errorf("patch %s %q: %w", raw.Op, raw.Key, err)
		}
		p.Value = v
	}
	return nil
}

// PullResponse is what the transport delivers from the server: the new
// cookie, the clients whose last mutation IDs advanced, and a patch from
// the replica's base snapshot to the new state.
type PullResponse struct {
	Cookie                cookie.Cookie     `json:"cookie"`
	LastMutationIDChanges map[string]uint64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOp         `json:"patch"`
}

// ParsePullResponse decodes a pull response. A cookie outside the accepted
// wire shapes fails with *cookie.InvalidCookieError.
func ParsePullResponse(data []byte) (PullResponse, error) {
	var resp PullResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return PullResponse{}, fmt.Errorf("parse pull response: %w", err)
	}
	return resp, nil
}

// PullOutcome says what ApplyPull did.
type PullOutcome int

const (
	// PullApplied means a new snapshot was committed and pending
	// mutations were rebased onto it.
	PullApplied PullOutcome = iota
	// PullStale means the pulled cookie is older than the base snapshot's.
	PullStale
	// PullUnchanged means the pull carried nothing new.
	PullUnchanged
)

func (o PullOutcome) String() string {
	switch o {
	case PullApplied:
		return "applied"
	case PullStale:
		return "stale"
	case PullUnchanged:
		return "unchanged"
	}
	return fmt.Sprintf("PullOutcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o PullOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// PullResult describes an ApplyPull.
type PullResult struct {
	Outcome  PullOutcome `json:"outcome"`
	Head     ir.Hash     `json:"head"`
	Snapshot ir.Hash     `json:"snapshot,omitempty"`
	Replayed int         `json:"replayed"`
	Dropped  int         `json:"dropped"`
	NoOps    int         `json:"noops"`
}

// ApplyPull ingests a pull response.
//
// A cookie older than the base snapshot's is ignored. An equal cookie with
// no patch and no mutation ID changes is a no-op. Otherwise a new snapshot
// is built on the base snapshot, the patch and mutation ID changes are
// applied, confirmed pending mutations are dropped, the rest are replayed
// in order, and the head is swapped to the rebased chain. All of it happens
// in one chunk store transaction: on any error the head is unchanged.
func (r *Replica) ApplyPull(ctx context.Context, resp PullResponse) (PullResult, error) {
	ctx, span := tracer.Start(ctx, "Replica.ApplyPull", trace.WithAttributes(
		attribute.String("cookie", resp.Cookie.String()),
		attribute.Int("patch_ops", len(resp.Patch)),
	))
	defer span.End()

	if err := validatePatch(resp.Patch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid patch")
		return PullResult{}, err
	}

	var res PullResult
	err := r.store.Update(ctx, func(tx *chunk.Tx) error {
		res = PullResult{}

		head, err := commit.FromHead(ctx, tx, r.head)
		if err != nil {
			return err
		}
		res.Head = head.Hash

		base, err := commit.BaseSnapshot(ctx, tx, head)
		if err != nil {
			return err
		}
		baseMeta, _ := base.Snapshot()

		switch cmp := cookie.Compare(resp.Cookie, baseMeta.Cookie); {
		case cmp < 0:
			res.Outcome = PullStale
			return nil
		case cmp == 0 && len(resp.Patch) == 0 && len(resp.LastMutationIDChanges) == 0:
			res.Outcome = PullUnchanged
			return nil
		}

		lmids, err := mergeLastMutationIDs(baseMeta.LastMutationIDs, resp.LastMutationIDChanges)
		if err != nil {
			return err
		}

		w := txn.NewWriteSnapshot(ctx, tx, base, resp.Cookie, lmids)
		if err := applyPatch(ctx, w, resp.Patch); err != nil {
			return err
		}
		snap, err := w.PutCommit(ctx, tx)
		if err != nil {
			return fmt.Errorf("store snapshot: %w", err)
		}

		pending, err := commit.LocalMutations(ctx, tx, head)
		if err != nil {
			return err
		}
		slices.Reverse(pending)

		rb, err := r.Rebase(ctx, tx, snap, pending)
		if err != nil {
			return err
		}

		if err := tx.CompareAndSwapHead(ctx, r.head, head.Hash, rb.Head.Hash); err != nil {
			return err
		}
		res = PullResult{
			Outcome:  PullApplied,
			Head:     rb.Head.Hash,
			Snapshot: snap.Hash,
			Replayed: rb.Replayed,
			Dropped:  rb.Dropped,
			NoOps:    rb.NoOps,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pull failed")
		return PullResult{}, fmt.Errorf("apply pull: %w", err)
	}

	pullsTotal.WithLabelValues(res.Outcome.String()).Inc()
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	r.logger.Debug("pull processed",
		"outcome", res.Outcome.String(),
		"head", res.Head.Short(),
		"replayed", res.Replayed,
		"dropped", res.Dropped,
		"noops", res.NoOps,
	)
	return res, nil
}

func validatePatch(patch []PatchOp) error {
	for i, op := range patch {
		switch op.Op {
		case PatchPut:
			if op.Value == nil {
				return NewInvalidPatchError(i, fmt.Sprintf("put %q has no value", op.Key))
			}
		case PatchDel:
		case PatchClear:
			continue
		default:
			return NewInvalidPatchError(i, fmt.Sprintf("unknown op %q", op.Op))
		}
	}
	return nil
}

func applyPatch(ctx context.Context, w *txn.Write, patch []PatchOp) error {
	for _, op := range patch {
		switch op.Op {
		case PatchPut:
			if err := w.Put(ctx, op.Key, op.Value); err != nil {
				return err
			}
		case PatchDel:
			if _, err := w.Del(ctx, op.Key); err != nil {
				return err
			}
		case PatchClear:
			w.Clear()
		}
	}
	return nil
}

// mergeLastMutationIDs applies changes on top of have. A change that
// lowers a client's ID, or does not fit an int64, is rejected.
func mergeLastMutationIDs(have, changes map[string]uint64) (map[string]uint64, error) {
	out := make(map[string]uint64, len(have)+len(changes))
	maps.Copy(out, have)
	for _, id := range slices.Sorted(maps.Keys(changes)) {
		n := changes[id]
		if n > math.MaxInt64 {
			return nil, NewMutationIDOutOfRangeError(id, n)
		}
		if n < out[id] {
			return nil, NewMutationIDRegressedError(id, out[id], n)
		}
		out[id] = n
	}
	return out, nil
}
