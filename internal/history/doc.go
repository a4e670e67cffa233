// Package history archives reconciliation events to SQLite.
//
// Each device carries a small in-memory event log bounded to its most
// recent entries; the archive keeps the full stream for later
// inspection, with explicit pruning instead of eviction.
package history
