// Package harness runs conformance scenarios against a replica.
//
// A scenario drives one in-memory replica through a sequence of local
// mutations and pull responses, records what happened after each step,
// and checks the final state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: rebase_after_pull
//	description: "An unconfirmed mutation is replayed on the new snapshot"
//	client_id: c1
//	mutators: ../mutators
//	steps:
//	  - mutate: inc
//	    args: { key: count, by: 1 }
//	    expect: { mutation_id: 1 }
//	  - pull:
//	      cookie: 1
//	      last_mutation_ids: { c1: 0 }
//	      patch:
//	        - { op: put, key: count, value: 10 }
//	    expect: { outcome: applied }
//	assertions:
//	  - type: final_value
//	    key: count
//	    value: 11
//	  - type: pending
//	    ids: [1]
//
// The mutators path names a directory of CUE mutator definitions and is
// resolved relative to the scenario file.
//
// # Assertion Types
//
//   - final_value: the key holds value, or is absent when absent is true
//   - pending: the pending mutation IDs, oldest first
//   - last_mutation_id: the last mutation ID recorded for client
//   - cookie: the base snapshot's cookie
//   - trace_count: the trace has count steps of kind
//
// # Deterministic Testing
//
// Each run uses a fresh memory store, a fixed client ID, and
// testutil.DeterministicClock for mutation timestamps. The trace carries
// no hashes, so it is stable across runs and suitable for golden
// comparison with RunWithGolden.
package harness
