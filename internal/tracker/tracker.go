package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Hawkyie/optechtracker/internal/device"
	"github.com/Hawkyie/optechtracker/internal/history"
)

// maxImportErrors caps the error samples carried in an ImportSummary.
const maxImportErrors = 5

// Store persists the device collection.
type Store interface {
	Load() ([]*device.Device, error)
	Save(devices []*device.Device) error
}

// History archives reconciliation events. Optional.
type History interface {
	Record(ctx context.Context, e history.Entry) error
}

// Metrics exports numeric device readings. Optional.
type Metrics interface {
	WriteDeviceMetric(deviceID, measurement string, value float64)
}

// Logger is the minimal logging interface the tracker needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Update carries the operator-editable device fields. Nil pointers mean
// leave unchanged.
type Update struct {
	Name      *string
	Type      *string
	Notes     *string
	StreamRef *string
}

// ImportSummary reports the outcome of a file import.
type ImportSummary struct {
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	NoChange    int      `json:"no_change"`
	Errors      []string `json:"errors,omitempty"`
	TotalErrors int      `json:"total_errors"`
}

// Tracker owns the in-memory device collection.
//
// All access is serialised behind one mutex; reads hand out deep copies
// so callers can never observe a device mid-mutation. Persistence is
// write-through: every mutating operation saves the whole collection
// before returning, except ApplyBatch which saves once per batch.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	devices []*device.Device

	logger  Logger
	history History
	metrics Metrics
}

// New creates a tracker on the given store. Call Load before use.
func New(store Store) *Tracker {
	return &Tracker{
		store:  store,
		logger: noopLogger{},
	}
}

// SetLogger attaches a logger for operational messages.
func (t *Tracker) SetLogger(l Logger) {
	if l != nil {
		t.logger = l
	}
}

// SetHistory attaches the optional event archive.
func (t *Tracker) SetHistory(h History) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = h
}

// SetMetrics attaches the optional metrics exporter.
func (t *Tracker) SetMetrics(m Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// Load reads the persisted collection into memory.
func (t *Tracker) Load() error {
	devices, err := t.store.Load()
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	t.mu.Lock()
	t.devices = devices
	t.mu.Unlock()

	t.logger.Info("device collection loaded", "count", len(devices))
	return nil
}

// List returns a deep copy of every device, in stored order.
func (t *Tracker) List() []*device.Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*device.Device, len(t.devices))
	for i, d := range t.devices {
		out[i] = d.DeepCopy()
	}
	return out
}

// Get returns a deep copy of one device by ID.
func (t *Tracker) Get(id string) (*device.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.findLocked(id)
	if d == nil {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// Count returns the number of tracked devices.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.devices)
}

// Create adds a minimal operator-created device and persists the
// collection.
func (t *Tracker) Create(name, deviceType string) (*device.Device, error) {
	if err := device.ValidateName(name); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	d := device.NewDevice(device.GenerateID(), name, deviceType)
	t.devices = append(t.devices, d)

	if err := t.saveLocked(); err != nil {
		t.devices = t.devices[:len(t.devices)-1]
		return nil, err
	}

	t.logger.Info("device created", "id", d.ID, "name", name)
	return d.DeepCopy(), nil
}

// Update applies operator edits to a device and persists the collection.
func (t *Tracker) Update(id string, u Update) (*device.Device, error) {
	if u.Name != nil {
		if err := device.ValidateName(*u.Name); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.findLocked(id)
	if d == nil {
		return nil, device.ErrDeviceNotFound
	}

	prev := *d
	if u.Name != nil {
		d.Name = *u.Name
		d.DisplayName = *u.Name
	}
	if u.Type != nil {
		d.Type = *u.Type
	}
	if u.Notes != nil {
		d.Notes = *u.Notes
	}
	if u.StreamRef != nil {
		d.StreamRef = *u.StreamRef
	}

	if err := t.saveLocked(); err != nil {
		*d = prev
		return nil, err
	}

	t.logger.Info("device updated", "id", id)
	return d.DeepCopy(), nil
}

// Delete removes a device and persists the collection.
func (t *Tracker) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, d := range t.devices {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return device.ErrDeviceNotFound
	}

	prev := t.devices
	next := make([]*device.Device, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	t.devices = next

	if err := t.saveLocked(); err != nil {
		t.devices = prev
		return err
	}

	t.logger.Info("device deleted", "id", id)
	return nil
}

// ApplyBatch reconciles a batch of telemetry payloads.
//
// Rejected payloads are collected rather than aborting the batch; the
// surviving collection is saved once at the end. The returned results
// cover accepted payloads only, in batch order.
func (t *Tracker) ApplyBatch(ctx context.Context, payloads []device.Payload) ([]device.Result, []error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	results := make([]device.Result, 0, len(payloads))
	var rejected []error

	for _, p := range payloads {
		devices, res, err := device.Upsert(t.devices, p)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		t.devices = devices
		results = append(results, res)

		t.archiveLocked(ctx, res, p)
		t.exportLocked(res, p)
	}

	if len(results) > 0 {
		if err := t.saveLocked(); err != nil {
			return results, rejected, err
		}
	}

	return results, rejected, nil
}

// ImportFiles reads payload files and reconciles their contents.
func (t *Tracker) ImportFiles(ctx context.Context, readFile func(string) ([]device.Payload, error), paths []string) (ImportSummary, error) {
	var summary ImportSummary
	var payloads []device.Payload

	for _, path := range paths {
		batch, err := readFile(path)
		if err != nil {
			summary.TotalErrors++
			if len(summary.Errors) < maxImportErrors {
				summary.Errors = append(summary.Errors, err.Error())
			}
			continue
		}
		payloads = append(payloads, batch...)
	}

	results, rejected, err := t.ApplyBatch(ctx, payloads)
	if err != nil {
		return summary, err
	}

	for _, res := range results {
		switch res.Action {
		case device.ActionCreated:
			summary.Created++
		case device.ActionUpdated:
			summary.Updated++
		default:
			summary.NoChange++
		}
	}
	for _, rerr := range rejected {
		summary.TotalErrors++
		if len(summary.Errors) < maxImportErrors {
			summary.Errors = append(summary.Errors, rerr.Error())
		}
	}

	t.logger.Info("import finished",
		"files", len(paths),
		"created", summary.Created,
		"updated", summary.Updated,
		"no_change", summary.NoChange,
		"errors", summary.TotalErrors)

	return summary, nil
}

// findLocked returns the device with the given ID. Caller holds the lock.
func (t *Tracker) findLocked(id string) *device.Device {
	for _, d := range t.devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// saveLocked persists the collection. Caller holds the lock.
func (t *Tracker) saveLocked() error {
	if err := t.store.Save(t.devices); err != nil {
		t.logger.Error("saving devices failed", "error", err)
		return fmt.Errorf("saving devices: %w", err)
	}
	return nil
}

// archiveLocked records a reconciliation outcome in the event archive.
// Archive failures are logged, never propagated.
func (t *Tracker) archiveLocked(ctx context.Context, res device.Result, p device.Payload) {
	if t.history == nil || res.Action == device.ActionNoChange {
		return
	}

	kind := string(device.EventStatus)
	if res.Action == device.ActionCreated {
		kind = string(device.EventImport)
	}

	err := t.history.Record(ctx, history.Entry{
		DeviceID: res.DeviceID,
		Serial:   res.Serial,
		Kind:     kind,
		Detail:   detailFor(res),
	})
	if err != nil {
		t.logger.Warn("archiving event failed", "device", res.DeviceID, "error", err)
	}
}

// exportLocked writes changed numeric readings to the metrics exporter.
func (t *Tracker) exportLocked(res device.Result, p device.Payload) {
	if t.metrics == nil {
		return
	}

	for _, f := range res.UpdatedFields {
		switch f {
		case device.FieldBatteryPct:
			if p.Battery.Set {
				t.metrics.WriteDeviceMetric(res.DeviceID, "battery_pct", float64(p.Battery.Value))
			}
		case device.FieldConnectivity:
			online := 0.0
			if res.Connectivity == device.ConnectivityOnline {
				online = 1.0
			}
			t.metrics.WriteDeviceMetric(res.DeviceID, "online", online)
		}
	}
}

// detailFor summarises a result for the archive.
func detailFor(res device.Result) string {
	if res.Action == device.ActionCreated {
		return "created from telemetry"
	}
	detail := ""
	for i, f := range res.UpdatedFields {
		if i > 0 {
			detail += ","
		}
		detail += f
	}
	return detail
}
