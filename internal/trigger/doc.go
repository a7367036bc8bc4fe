// Package trigger wires the events that start sync passes and view
// refreshes.
//
// Sync passes run:
//   - on a fixed interval (cron "@every" entry)
//   - whenever connectivity goes from offline to online
//   - on explicit request (RequestSync)
//
// View refreshes run after every sync pass and whenever a subscribed remote
// table changes. Bursts of change notifications are coalesced through a
// one-slot signal channel, so a flood of remote writes causes at most one
// pending refresh.
//
// Connectivity is probed on its own cron entry.
package trigger
