package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("replica.engine")

var (
	// mutationsTotal counts Mutate calls by outcome.
	//
	// Labels:
	//   - outcome: "committed", "mutator_error", "exhausted", "error"
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replica_mutations_total",
		Help: "Local mutations by outcome",
	}, []string{"outcome"})

	// commitConflictsTotal counts head compare-and-swap losses in Mutate.
	commitConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replica_commit_conflicts_total",
		Help: "Local commits that lost the head race and were retried",
	})

	// rebaseMutationsTotal counts pending mutations handled during rebase.
	//
	// Labels:
	//   - result: "replayed", "dropped", "noop"
	rebaseMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replica_rebase_mutations_total",
		Help: "Pending mutations handled during rebase by result",
	}, []string{"result"})

	// pullsTotal counts ApplyPull calls by outcome.
	//
	// Labels:
	//   - outcome: "applied", "stale", "unchanged"
	pullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replica_pulls_total",
		Help: "Pulls by outcome",
	}, []string{"outcome"})

	// chunksCollectedTotal counts chunks deleted by Collect.
	chunksCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replica_chunks_collected_total",
		Help: "Unreferenced chunks deleted by garbage collection",
	})
)
