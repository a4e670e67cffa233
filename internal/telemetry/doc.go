// Package telemetry talks to the external device feed.
//
// The feed is a read-only HTTP endpoint that returns the current batch
// of telemetry payloads. The client tolerates the feed's shape
// variations (bare array, single object, results envelope) and exposes
// runtime-swappable connection settings so operators can repoint the
// feed without a restart.
package telemetry
