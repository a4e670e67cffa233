package device

import "time"

// MaxEventLog is the capacity of a device's event log. Appending beyond
// this evicts the oldest entries first.
const MaxEventLog = 50

// TamperStatus represents the tamper state of a device.
// It is never empty; unseen devices report TamperUnknown.
type TamperStatus string

// TamperStatus constants.
const (
	TamperUnknown TamperStatus = "UNKNOWN"
	TamperOK      TamperStatus = "OK"
	TamperTripped TamperStatus = "TAMPERED"
)

// AllTamperStatuses returns all valid tamper status values.
func AllTamperStatuses() []TamperStatus {
	return []TamperStatus{TamperUnknown, TamperOK, TamperTripped}
}

// Connectivity represents the reachability of a device as reported by
// the telemetry source. It is never empty.
type Connectivity string

// Connectivity constants.
const (
	ConnectivityUnknown Connectivity = "UNKNOWN"
	ConnectivityOnline  Connectivity = "ONLINE"
	ConnectivityOffline Connectivity = "OFFLINE"
)

// AllConnectivities returns all valid connectivity values.
func AllConnectivities() []Connectivity {
	return []Connectivity{ConnectivityUnknown, ConnectivityOnline, ConnectivityOffline}
}

// Position is a geographic fix for a device. It is absent until the
// first telemetry payload carrying coordinates arrives.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// AccuracyM is the horizontal accuracy in metres, when known.
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

// EventKind classifies an event log entry.
type EventKind string

// EventKind constants.
const (
	// EventImport marks the seed event recorded when a device is first
	// created from a telemetry payload or file import.
	EventImport EventKind = "IMPORT"

	// EventStatus marks a routine telemetry refresh.
	EventStatus EventKind = "STATUS"

	// EventImage marks a telemetry refresh that carried an image descriptor.
	EventImage EventKind = "IMAGE"
)

// EventRecord is one compact entry in a device's bounded event log.
//
// TS is the payload timestamp verbatim when the payload supplied one,
// otherwise the local receive time in RFC 3339. Detail is a short
// human-readable summary, typically the list of fields the payload changed.
type EventRecord struct {
	TS     string    `json:"ts"`
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Device is the authoritative local record for one physical unit.
//
// Exactly one record exists per (serial, model) pair; records are created
// explicitly by an operator or implicitly by reconciliation on first
// sighting of an unmatched serial. ID is assigned at creation, is unique
// within the collection, and is never reused.
type Device struct {
	// Identity
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`

	// Classification
	Type         string `json:"device_type"`
	Model        string `json:"model,omitempty"`
	KitID        string `json:"kit_id,omitempty"`
	Notes        string `json:"notes,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`

	// Telemetry-derived state
	Position     *Position    `json:"position,omitempty"`
	BatteryPct   *int         `json:"battery_pct,omitempty"`
	TamperStatus TamperStatus `json:"tamper_status"`
	Connectivity Connectivity `json:"connectivity"`

	// LastSeen holds the timestamp of the most recent telemetry payload,
	// stored verbatim as supplied by the source. Empty until first contact.
	LastSeen string `json:"last_seen,omitempty"`

	// Media references
	LastImageRef string `json:"last_image_ref,omitempty"`
	StreamRef    string `json:"stream_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// EventLog holds the MaxEventLog most recent events, oldest first.
	EventLog []EventRecord `json:"event_log"`
}

// Label returns the best human-readable name for the device.
func (d *Device) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// AppendEvent appends an event to the device's log, evicting the oldest
// entries so the log never exceeds MaxEventLog.
func (d *Device) AppendEvent(ev EventRecord) {
	d.EventLog = append(d.EventLog, ev)
	if len(d.EventLog) > MaxEventLog {
		d.EventLog = d.EventLog[len(d.EventLog)-MaxEventLog:]
	}
}

// DeepCopy creates a complete independent copy of the Device.
// Pointer and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for snapshot isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.Position != nil {
		pos := *d.Position
		if d.Position.AccuracyM != nil {
			acc := *d.Position.AccuracyM
			pos.AccuracyM = &acc
		}
		cpy.Position = &pos
	}

	if d.BatteryPct != nil {
		batt := *d.BatteryPct
		cpy.BatteryPct = &batt
	}

	if d.EventLog != nil {
		cpy.EventLog = make([]EventRecord, len(d.EventLog))
		copy(cpy.EventLog, d.EventLog)
	}

	return &cpy
}
