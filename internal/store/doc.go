// Package store provides a SQLite-backed chunk.Backend for durable
// replica storage.
//
// The schema holds three tables:
//   - chunks: hash, payload, child refs and reference count
//   - heads: named roots pointing at chunks
//   - pins: extra roots held independently of heads
//
// Every chunk.Store.Update runs in one SQLite transaction, so chunk puts,
// head moves and count changes commit together.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: A returned commit survives power loss
//     (NORMAL when sync writes are disabled)
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Heads and pins must point at stored chunks
//
// Hashes are computed by ir.ChunkHash; this package stores them as
// lowercase hex TEXT.
package store
