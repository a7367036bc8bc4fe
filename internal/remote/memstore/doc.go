// Package memstore is an in-process remote.Store and remote.Registry.
//
// It keeps sessions, waitlist entries and vehicle profiles in memory, records
// every write in a journal, and lets tests simulate outages and rejections.
// The scenario harness compares the journal against golden files.
package memstore
