// Package engine implements the replica: the client-side core that runs
// mutators against the local head, ingests server pulls, and rebases the
// pending mutation queue onto each new snapshot.
//
// ARCHITECTURE:
//
// Single head, optimistic writers:
// Every write reads the head, builds a commit on it, and advances the head
// with a compare-and-swap. A writer that loses the race re-reads the head
// and runs again. There is no lock around the head; the chunk store's
// transaction is the only serialization point.
//
// Pull processing:
//  1. Compare the pulled cookie against the base snapshot's cookie
//  2. Build the new snapshot on the base snapshot and apply the patch
//  3. Drop pending mutations the snapshot confirms
//  4. Replay the rest, oldest first, each on the previous one's output
//  5. Swap the head from the old chain to the rebased chain
//
// All five steps run inside one chunk store transaction, so a failure
// anywhere leaves the head where it was.
//
// Mutation IDs:
// Each client's mutation IDs are contiguous from 1. A replay whose ID does
// not follow its basis aborts the whole pull with
// *commit.InconsistentMutationError. A replay whose mutator is not
// registered becomes a no-op and the pass continues.
package engine
