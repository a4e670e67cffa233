package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxNameLength bounds operator-supplied device names.
const maxNameLength = 100

// idPrefix marks generated device IDs. The suffix is the first eight hex
// characters of a random UUID, which is ample for a single collection.
const idPrefix = "dv"

// GenerateID creates a new opaque device ID.
func GenerateID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s", idPrefix, raw[:8])
}

// ValidateName checks an operator-supplied device name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}

// NewDevice creates a minimal device from operator input.
//
// All status fields start at their UNKNOWN defaults and the event log is
// empty; telemetry fills the rest in as payloads arrive.
func NewDevice(id, name, deviceType string) *Device {
	return &Device{
		ID:           id,
		Name:         name,
		DisplayName:  name,
		Type:         deviceType,
		TamperStatus: TamperUnknown,
		Connectivity: ConnectivityUnknown,
		CreatedAt:    time.Now().UTC(),
		EventLog:     []EventRecord{},
	}
}

// NewDeviceFromPayload creates a fully populated device from its first
// telemetry payload.
//
// The display name is synthesised from model and serial when the payload
// carries no better label, tamper and connectivity are derived from the
// tri-state flags (absent maps to UNKNOWN on creation), and a single
// IMPORT event seeds the log.
func NewDeviceFromPayload(p Payload) *Device {
	d := &Device{
		ID:           GenerateID(),
		DisplayName:  displayNameFromPayload(p),
		Type:         p.Type,
		Model:        p.Model,
		SerialNumber: p.Serial,
		KitID:        p.Kit,
		Notes:        p.Description,
		TamperStatus: tamperFromTriState(p.Tampered, TamperUnknown),
		Connectivity: connectivityFromTriState(p.Online, ConnectivityUnknown),
		LastSeen:     p.Timestamp,
		CreatedAt:    time.Now().UTC(),
		EventLog:     []EventRecord{},
	}

	if p.Position != nil && p.Position.Lat.Set && p.Position.Lon.Set {
		d.Position = &Position{
			Lat: p.Position.Lat.Value,
			Lon: p.Position.Lon.Value,
		}
	}

	if p.Battery.Set {
		batt := clampBattery(p.Battery.Value)
		d.BatteryPct = &batt
	}

	if ref := p.Image.Ref(); ref != "" {
		d.LastImageRef = ref
	}

	d.AppendEvent(EventRecord{
		TS:   eventTimestamp(p.Timestamp),
		Kind: EventImport,
	})

	return d
}

// displayNameFromPayload synthesises a label like "RX-9 (SN1234)".
func displayNameFromPayload(p Payload) string {
	model := p.Model
	if model == "" {
		model = "Unknown"
	}
	serial := p.Serial
	if serial == "" {
		serial = "-"
	}
	return fmt.Sprintf("%s (%s)", model, serial)
}

// tamperFromTriState maps the payload's tampered flag to a status.
// An unset flag yields the given fallback: UNKNOWN when creating a
// record, the previous value when updating one.
func tamperFromTriState(t TriState, fallback TamperStatus) TamperStatus {
	switch t {
	case TriTrue:
		return TamperTripped
	case TriFalse:
		return TamperOK
	default:
		return fallback
	}
}

// connectivityFromTriState maps the payload's online flag to a status,
// with the same fallback rule as tamperFromTriState.
func connectivityFromTriState(t TriState, fallback Connectivity) Connectivity {
	switch t {
	case TriTrue:
		return ConnectivityOnline
	case TriFalse:
		return ConnectivityOffline
	default:
		return fallback
	}
}

// clampBattery bounds a reported battery level to 0-100.
func clampBattery(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// eventTimestamp returns the payload timestamp, or the local receive
// time when the payload carried none.
func eventTimestamp(ts string) string {
	if ts != "" {
		return ts
	}
	return time.Now().UTC().Format(time.RFC3339)
}
