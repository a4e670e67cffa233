// Package api provides the HTTP REST API and websocket server.
//
// It exposes the device collection, manual sync, file import, and
// runtime telemetry settings to operator UIs, and pushes device
// updates, cycle stats, and alerts over the websocket hub.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
