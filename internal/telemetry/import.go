package telemetry

import (
	"fmt"
	"os"

	"github.com/Hawkyie/optechtracker/internal/device"
)

// ReadPayloadFile reads telemetry payloads from a local JSON file.
//
// The file may hold a single payload object or an array of them, the
// same shapes the remote feed produces. Used for offline imports of
// exported device dumps.
func ReadPayloadFile(path string) ([]device.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload file: %w", err)
	}

	payloads, err := parsePayloads(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return payloads, nil
}
