// Package notify fans alerts out to external sinks: the MQTT bridge
// and the event archive. The websocket hub receives alerts directly
// through the API layer.
package notify
