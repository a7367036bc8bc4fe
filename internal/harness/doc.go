// Package harness runs admission scenarios end to end.
//
// A scenario is a YAML file naming a facility capacity, optional registry
// records, and a list of attendant steps (check_in, check_out, accept,
// reject, sync, go_offline, go_online). Each step may state the outcome it
// expects. The harness drives a real engine.Facility over an in-memory SQLite
// queue and the memstore remote, with a manual clock and sequential
// correlation ids, so every run of a scenario produces the same trace.
//
// The trace lists each step with its outcome, the writes the remote store
// received in order, and the final reconciled view. RunWithGolden compares it
// against testdata golden files through goldie:
//
//	go test ./internal/harness -update
//
// regenerates them.
package harness
