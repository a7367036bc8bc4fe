// Package store provides the SQLite-backed local durable queue (LDQ) for lotkeep.
//
// The store holds every mutation that the remote store has not yet
// acknowledged, so pending check-ins, check-outs and waitlist changes survive
// process restarts and connectivity loss.
//
// Tables:
//   - queue_items: pending mutations in insertion order (seq)
//   - dead_letters: items that exhausted their retry budget, kept for review
//   - kv: small local key/value records (cached remote snapshot)
//
// # Ordering
//
// List always returns ORDER BY seq ASC. seq is AUTOINCREMENT so a removed
// item's sequence number is never reused and replay order is stable.
//
// # Serial access
//
// The LDQ is the only resource shared by the foreground mutation path and
// the background sync engine. The connection pool is limited to a single
// connection and every queue operation runs under the store mutex, so no
// read-modify-write can interleave with another.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
