// Package connectivity tracks whether the remote store is reachable.
//
// A Monitor holds the online indicator consumed by the admission engine.
// It is updated by periodic probes (Check) or manually (Set), and notifies
// listeners on every online/offline transition so a sync pass can start as
// soon as the link returns.
package connectivity
