// Package poller drives the periodic sync loop.
//
// Each cycle fetches the telemetry batch, hands it to the tracker for
// reconciliation, and turns the results into alerts. Cycles never
// overlap; a tick that lands mid-cycle is dropped rather than queued,
// since the next fetch returns the same current state anyway.
package poller
