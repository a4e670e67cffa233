// Package device defines the field-device model and the reconciliation
// logic that merges telemetry payloads into it.
//
// A Device is the persistent record for one tracked unit: identity,
// operator-editable metadata, last reported position and status, and a
// bounded log of recent events. A Payload is the ephemeral shape one
// telemetry report arrives in; it is never stored verbatim.
//
// Upsert is the single entry point for reconciliation. It matches a
// payload to a device by serial number (narrowed by model when the
// payload supplies one), merges changed fields, and reports the diff
// in a Result. Tri-state payload flags distinguish "explicitly false"
// from "absent" so that silent sources do not erase known state.
package device
