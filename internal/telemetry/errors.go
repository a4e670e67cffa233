package telemetry

import "errors"

// Sentinel errors for telemetry fetching.
var (
	// ErrNoEndpoint is returned when a fetch is attempted with no feed
	// URL configured.
	ErrNoEndpoint = errors.New("telemetry: no endpoint configured")

	// ErrFetchFailed is returned when the feed responds with a non-2xx
	// status.
	ErrFetchFailed = errors.New("telemetry: fetch failed")

	// ErrBadResponse is returned when the feed body cannot be parsed
	// into payloads.
	ErrBadResponse = errors.New("telemetry: unparseable response")
)
