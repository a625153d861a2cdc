package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/txn"
)

// RebaseResult summarizes one rebase pass.
type RebaseResult struct {
	// Head is the last commit of the rebased chain, or the target
	// snapshot when nothing was replayed.
	Head commit.Commit

	// Replayed counts mutations replayed with their mutator.
	Replayed int

	// Dropped counts mutations the target already confirms.
	Dropped int

	// NoOps counts mutations replayed without effect, either because the
	// mutator is not registered or because it failed.
	NoOps int
}

// RebaseMutation replays the local commit m onto basis and stores the
// result through w without moving any head. The new commit carries m's
// mutator name, args, mutation ID, client ID and timestamp.
//
// The mutation ID must be the next one for m's client on basis; otherwise
// *commit.InconsistentMutationError is returned. A mutator that is not
// registered, or that fails, is replaced by a no-op and noop is true.
// This differs from Mutate, where a failing mutator discards the write:
// here the mutation is already numbered and must still reach the server.
func (r *Replica) RebaseMutation(ctx context.Context, w chunk.Writer, basis, m commit.Commit) (out commit.Commit, noop bool, err error) {
	meta, ok := m.Local()
	if !ok {
		return commit.Commit{}, false, fmt.Errorf("rebase %s: not a local commit", m.Hash.Short())
	}

	impl, found := r.registry.Lookup(meta.MutatorName)
	if !found {
		r.logger.Warn("mutator not registered, replaying as no-op",
			"mutator", meta.MutatorName,
			"client_id", meta.ClientID,
			"mutation_id", meta.MutationID,
		)
		impl = mutator.Noop
		noop = true
	}

	open := func() (*txn.Write, error) {
		wr, err := txn.NewWriteLocal(ctx, w, basis,
			meta.MutatorName, meta.MutatorArgs, meta.ClientID, meta.MutationID, meta.Timestamp)
		if err != nil {
			return nil, err
		}
		return wr.WithReason(mutator.ReasonRebase), nil
	}

	wr, err := open()
	if err != nil {
		return commit.Commit{}, false, err
	}
	if err := impl.Mutate(ctx, wr, meta.MutatorArgs); err != nil {
		r.logger.Warn("mutator failed during rebase, keeping mutation without effect",
			"mutator", meta.MutatorName,
			"client_id", meta.ClientID,
			"mutation_id", meta.MutationID,
			"error", err,
		)
		if wr, err = open(); err != nil {
			return commit.Commit{}, false, err
		}
		noop = true
	}

	out, err = wr.PutCommit(ctx, w)
	if err != nil {
		return commit.Commit{}, false, fmt.Errorf("rebase mutation %d of %s: %w", meta.MutationID, meta.ClientID, err)
	}
	return out, noop, nil
}

// Rebase folds pending (oldest first) onto target. Mutations whose ID is
// at or below their client's last mutation ID in target's base snapshot
// are dropped; each remaining one is replayed on the previous output.
// The first fatal error aborts the pass. Commits are stored through w;
// moving the head is the caller's job.
func (r *Replica) Rebase(ctx context.Context, w chunk.Writer, target commit.Commit, pending []commit.Commit) (RebaseResult, error) {
	ctx, span := tracer.Start(ctx, "Replica.Rebase", trace.WithAttributes(
		attribute.String("target", target.Hash.String()),
		attribute.Int("pending", len(pending)),
	))
	defer span.End()

	base, err := commit.BaseSnapshot(ctx, w, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "base snapshot")
		return RebaseResult{}, err
	}
	confirmed, _ := base.Snapshot()

	res := RebaseResult{Head: target}
	for _, m := range pending {
		meta, ok := m.Local()
		if !ok {
			return RebaseResult{}, fmt.Errorf("rebase %s: not a local commit", m.Hash.Short())
		}
		if meta.MutationID <= confirmed.LastMutationIDs[meta.ClientID] {
			res.Dropped++
			rebaseMutationsTotal.WithLabelValues("dropped").Inc()
			continue
		}

		next, noop, err := r.RebaseMutation(ctx, w, res.Head, m)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rebase aborted")
			return RebaseResult{}, err
		}
		res.Head = next
		if noop {
			res.NoOps++
			rebaseMutationsTotal.WithLabelValues("noop").Inc()
		} else {
			res.Replayed++
			rebaseMutationsTotal.WithLabelValues("replayed").Inc()
		}
	}

	span.SetAttributes(
		attribute.Int("replayed", res.Replayed),
		attribute.Int("dropped", res.Dropped),
		attribute.Int("noops", res.NoOps),
	)
	return res, nil
}
