// Package store persists the device collection to a single JSON file.
//
// The whole collection is written in one atomic replace per save, which
// keeps the on-disk format trivially inspectable and makes partial
// writes impossible. Corrupt files are quarantined rather than fatal so
// the service always starts.
package store
