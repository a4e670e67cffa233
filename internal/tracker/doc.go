// Package tracker owns the live device collection.
//
// The tracker is the only component that mutates devices. Telemetry
// batches, operator edits and file imports all funnel through it, and
// it writes the collection through to the store so a crash at any point
// loses at most the batch in flight. Reads return deep copies.
package tracker
