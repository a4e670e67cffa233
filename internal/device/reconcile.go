package device

import "strings"

// Action describes the outcome of reconciling one payload.
type Action string

// Action values.
const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionNoChange Action = "no_change"
)

// Tracked field names reported in Result.UpdatedFields.
const (
	FieldLat          = "lat"
	FieldLon          = "lon"
	FieldLastSeen     = "last_seen"
	FieldBatteryPct   = "battery_pct"
	FieldTamperStatus = "tamper_status"
	FieldConnectivity = "connectivity"
	FieldLastImageRef = "last_image_ref"
)

// Result reports exactly what one payload changed.
//
// It is computed for every payload, including ones that change nothing,
// so that alerting can observe safety-relevant transitions even inside an
// otherwise quiet batch. TamperChanged and ConnectivityChanged compare
// the value before the call to the value after; on the create path both
// are false and Tamper/Connectivity carry the new device's state.
type Result struct {
	Action        Action       `json:"action"`
	DeviceID      string       `json:"device_id"`
	Serial        string       `json:"serial"`
	Model         string       `json:"model,omitempty"`
	UpdatedFields []string     `json:"updated_fields"`
	TamperChanged bool         `json:"tamper_changed"`
	Tamper        TamperStatus `json:"tamper"`
	ConnChanged   bool         `json:"connectivity_changed"`
	Connectivity  Connectivity `json:"connectivity"`
}

// Upsert reconciles one payload into the collection.
//
// It matches the payload to an existing device by serial number, narrowed
// by model when the payload supplies one, and either merges the payload
// field-by-field into the match or appends a newly created device. The
// possibly grown collection is returned along with a Result describing
// what changed.
//
// A payload without a serial is rejected with ErrMissingSerial and the
// collection is left untouched. Matched devices are mutated in place;
// the caller owns serialisation of concurrent access.
func Upsert(devices []*Device, p Payload) ([]*Device, Result, error) {
	if err := p.Validate(); err != nil {
		return devices, Result{}, err
	}

	existing := match(devices, p)
	if existing == nil {
		created := NewDeviceFromPayload(p)
		devices = append(devices, created)
		return devices, Result{
			Action:        ActionCreated,
			DeviceID:      created.ID,
			Serial:        p.Serial,
			Model:         p.Model,
			UpdatedFields: []string{},
			Tamper:        created.TamperStatus,
			Connectivity:  created.Connectivity,
		}, nil
	}

	res := refresh(existing, p)
	return devices, res, nil
}

// match finds the device a payload refers to, or nil.
//
// The key is serial_number equality; when the payload names a model the
// match is narrowed to devices with that exact model. A stored device
// whose model is unset therefore does not match a payload that carries
// one, and a sibling record is created instead.
func match(devices []*Device, p Payload) *Device {
	for _, d := range devices {
		if d.SerialNumber != p.Serial {
			continue
		}
		if p.Model != "" && d.Model != p.Model {
			continue
		}
		return d
	}
	return nil
}

// refresh merges a payload into an existing device and reports the diff.
//
// Each tracked field updates only when the payload supplies a non-absent
// value that differs from the stored one; absence leaves the field
// untouched. That includes tamper_status and connectivity: an omitted
// tri-state flag preserves the previous value rather than resetting it
// to UNKNOWN, so a source that reports tamper only on change cannot
// erase a standing TAMPERED state.
func refresh(d *Device, p Payload) Result {
	// Capture prior safety states to compute change flags after the merge.
	prevTamper := d.TamperStatus
	prevConn := d.Connectivity

	var updated []string

	// Position
	if p.Position != nil {
		lat, latSet := p.Position.Lat.Value, p.Position.Lat.Set
		lon, lonSet := p.Position.Lon.Value, p.Position.Lon.Set
		if latSet || lonSet {
			if d.Position == nil {
				d.Position = &Position{}
				if latSet {
					d.Position.Lat = lat
					updated = append(updated, FieldLat)
				}
				if lonSet {
					d.Position.Lon = lon
					updated = append(updated, FieldLon)
				}
			} else {
				if latSet && d.Position.Lat != lat {
					d.Position.Lat = lat
					updated = append(updated, FieldLat)
				}
				if lonSet && d.Position.Lon != lon {
					d.Position.Lon = lon
					updated = append(updated, FieldLon)
				}
			}
		}
	}

	// Last seen
	if p.Timestamp != "" && p.Timestamp != d.LastSeen {
		d.LastSeen = p.Timestamp
		updated = append(updated, FieldLastSeen)
	}

	// Battery
	if p.Battery.Set {
		batt := clampBattery(p.Battery.Value)
		if d.BatteryPct == nil || *d.BatteryPct != batt {
			d.BatteryPct = &batt
			updated = append(updated, FieldBatteryPct)
		}
	}

	// Tamper
	if tamper := tamperFromTriState(p.Tampered, d.TamperStatus); tamper != d.TamperStatus {
		d.TamperStatus = tamper
		updated = append(updated, FieldTamperStatus)
	}

	// Connectivity
	if conn := connectivityFromTriState(p.Online, d.Connectivity); conn != d.Connectivity {
		d.Connectivity = conn
		updated = append(updated, FieldConnectivity)
	}

	// Image reference
	if ref := p.Image.Ref(); ref != "" && ref != d.LastImageRef {
		d.LastImageRef = ref
		updated = append(updated, FieldLastImageRef)
	}

	d.AppendEvent(EventRecord{
		TS:     eventTimestamp(p.Timestamp),
		Kind:   p.eventKind(),
		Detail: strings.Join(updated, ","),
	})

	action := ActionNoChange
	if len(updated) > 0 {
		action = ActionUpdated
	}
	if updated == nil {
		updated = []string{}
	}

	return Result{
		Action:        action,
		DeviceID:      d.ID,
		Serial:        p.Serial,
		Model:         p.Model,
		UpdatedFields: updated,
		TamperChanged: d.TamperStatus != prevTamper,
		Tamper:        d.TamperStatus,
		ConnChanged:   d.Connectivity != prevConn,
		Connectivity:  d.Connectivity,
	}
}
