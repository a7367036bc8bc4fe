// Package engine implements the offline-resilient admission engine.
//
// ARCHITECTURE:
//
// Write-ahead queue:
// Every foreground write (check-in, check-out, waitlist add/remove) is first
// appended to the local durable queue and only then pushed to the remote
// store. The queue is the single source of pending truth; nothing is held
// in memory that a restart would lose.
//
// Sync pass (Syncer):
// Replays queued mutations in queue order, one at a time. An acknowledged
// item is removed. A rejected item stays with a backoff schedule, and later
// items for the same plate wait so per-plate order holds. Items that exhaust
// their retry budget are dead-lettered. An unreachable remote ends the pass
// without charging an attempt. Passes never overlap.
//
// Reconciled view (Reconcile):
// A pure function of the last confirmed snapshot and the pending queue.
// It is recomputed on every refresh, never patched, so the attendant always
// sees confirmed state plus their own unconfirmed writes.
//
// Admission (Decide, Facility.CheckIn):
// Plate already active → conflict; free slot → check in; otherwise → waitlist.
// Decisions use the local view, so two offline clients may briefly overfill
// the facility.
//
// Promotion (Promoter):
// Each departure while online offers the freed slot to the longest-waiting
// vehicle. Accept checks it in and removes the entry; reject removes the
// entry and offers the slot to the next vehicle.
package engine
