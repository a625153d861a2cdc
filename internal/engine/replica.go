package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/replica/internal/chunk"
	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
	"github.com/roach88/replica/internal/tree"
	"github.com/roach88/replica/internal/txn"
)

const (
	// DefaultHeadName is the head a replica writes to unless told otherwise.
	DefaultHeadName = "main"

	// DefaultMaxRetries bounds how often Mutate re-runs after losing the head race.
	DefaultMaxRetries = 8
)

// Replica is one client's view of the replicated key/value space.
// It is safe for concurrent use; concurrent writers serialize through the
// head compare-and-swap.
type Replica struct {
	store      *chunk.Store
	registry   *mutator.Registry
	clientID   string
	head       string
	clock      Clock
	idGen      ClientIDGenerator
	logger     *slog.Logger
	maxRetries int
}

// Option configures a Replica.
type Option func(*Replica)

// WithClientID sets the client ID. Without it one is generated.
func WithClientID(id string) Option {
	return func(r *Replica) {
		r.clientID = id
	}
}

// WithClientIDGenerator sets how a missing client ID is generated.
func WithClientIDGenerator(g ClientIDGenerator) Option {
	return func(r *Replica) {
		r.idGen = g
	}
}

// WithHeadName sets the head the replica reads and advances.
func WithHeadName(name string) Option {
	return func(r *Replica) {
		r.head = name
	}
}

// WithClock sets the source of local commit timestamps.
func WithClock(c Clock) Option {
	return func(r *Replica) {
		r.clock = c
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Replica) {
		r.logger = l
	}
}

// WithMaxRetries sets how many times Mutate retries after contention.
func WithMaxRetries(n int) Option {
	return func(r *Replica) {
		r.maxRetries = n
	}
}

// New creates a replica over store, resolving mutators from reg.
func New(store *chunk.Store, reg *mutator.Registry, opts ...Option) *Replica {
	r := &Replica{
		store:      store,
		registry:   reg,
		head:       DefaultHeadName,
		clock:      WallClock{},
		idGen:      UUIDv7Generator{},
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clientID == "" {
		r.clientID = r.idGen.Generate()
	}
	if r.maxRetries < 0 {
		r.maxRetries = 0
	}
	return r
}

// ClientID returns the ID stamped on this replica's mutations.
func (r *Replica) ClientID() string {
	return r.clientID
}

// HeadName returns the head this replica advances.
func (r *Replica) HeadName() string {
	return r.head
}

// Store returns the underlying chunk store.
func (r *Replica) Store() *chunk.Store {
	return r.store
}

// Registry returns the mutator registry.
func (r *Replica) Registry() *mutator.Registry {
	return r.registry
}

// Init creates the genesis snapshot (null cookie, no mutation IDs, empty
// map) if the head does not exist yet, and returns the head hash.
func (r *Replica) Init(ctx context.Context) (ir.Hash, error) {
	var out ir.Hash
	err := r.store.Update(ctx, func(tx *chunk.Tx) error {
		h, ok, err := tx.Head(ctx, r.head)
		if err != nil {
			return err
		}
		if ok {
			out = h
			return nil
		}

		root, err := tree.EmptyRoot(ctx, tx)
		if err != nil {
			return err
		}
		g, err := commit.Put(ctx, tx, commit.SnapshotMeta{
			Cookie:          cookie.Null(),
			LastMutationIDs: map[string]uint64{},
		}, root)
		if err != nil {
			return err
		}
		if err := tx.CompareAndSwapHead(ctx, r.head, ir.EmptyHash, g.Hash); err != nil {
			return err
		}
		out = g.Hash
		return nil
	})
	if err != nil {
		return ir.EmptyHash, fmt.Errorf("init replica: %w", err)
	}
	r.logger.Debug("replica initialized", "head", r.head, "hash", out.Short(), "client_id", r.clientID)
	return out, nil
}

// Head returns the commit the head points at.
func (r *Replica) Head(ctx context.Context) (commit.Commit, error) {
	c, err := commit.FromHead(ctx, r.store, r.head)
	if err != nil {
		return commit.Commit{}, fmt.Errorf("read head: %w", err)
	}
	return c, nil
}

// MutateResult describes a committed local mutation.
type MutateResult struct {
	Hash       ir.Hash `json:"hash"`
	MutationID uint64  `json:"mutationID"`
}

// Mutate runs the named mutator on the head and commits the result as a
// local commit carrying the next mutation ID for this client. If another
// writer moves the head first, Mutate re-reads it and runs the mutator
// again, up to the configured retry limit. A mutator error discards the
// write and is returned.
func (r *Replica) Mutate(ctx context.Context, name string, args ir.Value) (MutateResult, error) {
	ctx, span := tracer.Start(ctx, "Replica.Mutate", trace.WithAttributes(
		attribute.String("mutator", name),
		attribute.String("client_id", r.clientID),
	))
	defer span.End()

	m, ok := r.registry.Lookup(name)
	if !ok {
		err := fmt.Errorf("%w: %q", mutator.ErrUnknownMutator, name)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown mutator")
		mutationsTotal.WithLabelValues("error").Inc()
		return MutateResult{}, err
	}
	if args == nil {
		args = ir.Null{}
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		res, err := r.mutateOnce(ctx, name, m, args)
		if err == nil {
			span.SetAttributes(attribute.Int64("mutation_id", int64(res.MutationID)))
			mutationsTotal.WithLabelValues("committed").Inc()
			return res, nil
		}
		if !IsRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mutation failed")
			var me *mutatorError
			if errors.As(err, &me) {
				mutationsTotal.WithLabelValues("mutator_error").Inc()
			} else {
				mutationsTotal.WithLabelValues("error").Inc()
			}
			return MutateResult{}, err
		}

		commitConflictsTotal.Inc()
		r.logger.Debug("head moved during mutation, retrying",
			"mutator", name,
			"client_id", r.clientID,
			"attempt", attempt+1,
		)
		lastErr = err
	}

	err := NewRetriesExhaustedError(r.clientID, name, r.maxRetries+1, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "retries exhausted")
	mutationsTotal.WithLabelValues("exhausted").Inc()
	return MutateResult{}, err
}

// mutatorError marks an error returned by application mutator code.
type mutatorError struct {
	name string
	err  error
}

func (e *mutatorError) Error() string { return fmt.Sprintf("mutator %q: %v", e.name, e.err) }
func (e *mutatorError) Unwrap() error { return e.err }

func (r *Replica) mutateOnce(ctx context.Context, name string, m mutator.Mutator, args ir.Value) (MutateResult, error) {
	basis, err := r.Head(ctx)
	if err != nil {
		return MutateResult{}, err
	}
	next, err := commit.NextMutationID(ctx, r.store, basis, r.clientID)
	if err != nil {
		return MutateResult{}, err
	}
	w, err := txn.NewWriteLocal(ctx, r.store, basis, name, args, r.clientID, next, r.clock.Now())
	if err != nil {
		return MutateResult{}, err
	}
	if err := m.Mutate(ctx, w, args); err != nil {
		return MutateResult{}, &mutatorError{name: name, err: err}
	}
	c, err := w.Commit(ctx, r.store, r.head)
	if err != nil {
		return MutateResult{}, err
	}
	return MutateResult{Hash: c.Hash, MutationID: next}, nil
}

// Get reads key at the head.
func (r *Replica) Get(ctx context.Context, key string) (ir.Value, bool, error) {
	c, err := r.Head(ctx)
	if err != nil {
		return nil, false, err
	}
	return tree.Get(ctx, r.store, c.ValueHash, key)
}

// Has reports whether key is present at the head.
func (r *Replica) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Get(ctx, key)
	return ok, err
}

// ScanOptions bounds a Scan.
type ScanOptions struct {
	// Prefix restricts results to keys starting with it.
	Prefix string
	// Start skips keys that sort before it.
	Start string
	// Limit caps the number of entries; zero means no limit.
	Limit int
}

// Scan returns entries at the head in key order.
func (r *Replica) Scan(ctx context.Context, opts ScanOptions) ([]tree.Entry, error) {
	c, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := tree.Entries(ctx, r.store, c.ValueHash)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if e.Key < opts.Start || !strings.HasPrefix(e.Key, opts.Prefix) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// PendingMutation is one unconfirmed local mutation, in the shape the
// transport pushes to the server.
type PendingMutation struct {
	Hash       ir.Hash  `json:"hash"`
	ClientID   string   `json:"clientID"`
	MutationID uint64   `json:"id"`
	Name       string   `json:"name"`
	Args       ir.Value `json:"args"`
	Timestamp  int64    `json:"timestamp"`
}

// Pending returns the local mutations above the base snapshot, oldest first.
func (r *Replica) Pending(ctx context.Context) ([]PendingMutation, error) {
	c, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	locals, err := commit.LocalMutations(ctx, r.store, c)
	if err != nil {
		return nil, err
	}
	slices.Reverse(locals)

	out := make([]PendingMutation, 0, len(locals))
	for _, l := range locals {
		meta, _ := l.Local()
		out = append(out, PendingMutation{
			Hash:       l.Hash,
			ClientID:   meta.ClientID,
			MutationID: meta.MutationID,
			Name:       meta.MutatorName,
			Args:       meta.MutatorArgs,
			Timestamp:  meta.Timestamp,
		})
	}
	return out, nil
}

// Cookie returns the cookie of the base snapshot under the head, which is
// what the next pull request should carry.
func (r *Replica) Cookie(ctx context.Context) (cookie.Cookie, error) {
	c, err := r.Head(ctx)
	if err != nil {
		return cookie.Null(), err
	}
	base, err := commit.BaseSnapshot(ctx, r.store, c)
	if err != nil {
		return cookie.Null(), err
	}
	meta, _ := base.Snapshot()
	return meta.Cookie, nil
}

// LastMutationID returns the highest mutation ID of clientID at the head,
// counting pending mutations.
func (r *Replica) LastMutationID(ctx context.Context, clientID string) (uint64, error) {
	c, err := r.Head(ctx)
	if err != nil {
		return 0, err
	}
	return commit.MutationID(ctx, r.store, c, clientID)
}

// Log returns commits from the head downward, newest first. It follows
// snapshot basis links while the older snapshots are still stored.
// A limit of zero returns everything reachable.
func (r *Replica) Log(ctx context.Context, limit int) ([]commit.Commit, error) {
	c, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	return commit.History(ctx, r.store, c, limit)
}

// Collect deletes chunks no head or pin can reach.
func (r *Replica) Collect(ctx context.Context) (int, error) {
	n, err := r.store.Collect(ctx)
	if err != nil {
		return 0, err
	}
	chunksCollectedTotal.Add(float64(n))
	return n, nil
}

// Pin keeps the current head's commit alive across later writes and
// collections, and returns its hash.
func (r *Replica) Pin(ctx context.Context) (ir.Hash, error) {
	var out ir.Hash
	err := r.store.Update(ctx, func(tx *chunk.Tx) error {
		h, ok, err := tx.Head(ctx, r.head)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", commit.ErrNoHead, r.head)
		}
		out = h
		return tx.Pin(ctx, h)
	})
	if err != nil {
		return ir.EmptyHash, fmt.Errorf("pin head: %w", err)
	}
	return out, nil
}

// Unpin releases one Pin of h.
func (r *Replica) Unpin(ctx context.Context, h ir.Hash) error {
	return r.store.Unpin(ctx, h)
}
