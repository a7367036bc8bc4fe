// Package remote defines the boundary to the shared remote store.
//
// The remote store holds the confirmed parking sessions, the waitlist and
// the vehicle registry. Everything the client writes goes through the local
// durable queue first; the sync engine replays queued mutations against a
// Store implementation.
//
// Implementations:
//   - postgres: pgx connection pool, LISTEN/NOTIFY for change subscriptions
//   - memstore: in-process store with failure injection, used by tests and
//     the scenario harness
//
// Error contract:
//   - ErrUnavailable means the call did not reach the store (transport
//     failure, connection refused, offline). Callers retry later without
//     counting it against a mutation.
//   - ErrNotFound means the addressed row does not exist.
//   - Any other error is a rejection by the store.
package remote
