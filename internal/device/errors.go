package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrMissingSerial) {
//	    // reject the single payload, keep processing the batch
//	}
var (
	// ErrMissingSerial is returned when a payload has no serial number.
	// Such payloads are rejected with no effect on the collection.
	ErrMissingSerial = errors.New("device: payload missing serial")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")
)
