package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Hawkyie/optechtracker/internal/device"
	"github.com/Hawkyie/optechtracker/internal/history"
)

// memStore is an in-memory Store that records save calls.
type memStore struct {
	devices   []*device.Device
	saveCalls int
	saveErr   error
	loadErr   error
}

func (m *memStore) Load() ([]*device.Device, error) {
	return m.devices, m.loadErr
}

func (m *memStore) Save(devices []*device.Device) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saveCalls++
	m.devices = devices
	return nil
}

// memHistory records archive entries in memory.
type memHistory struct {
	entries []history.Entry
}

func (m *memHistory) Record(_ context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

// memMetrics records metric writes in memory.
type memMetrics struct {
	writes []string
}

func (m *memMetrics) WriteDeviceMetric(deviceID, measurement string, value float64) {
	m.writes = append(m.writes, fmt.Sprintf("%s/%s=%g", deviceID, measurement, value))
}

func newTestTracker(t *testing.T) (*Tracker, *memStore) {
	t.Helper()
	store := &memStore{}
	tr := New(store)
	if err := tr.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return tr, store
}

func TestCreateAndGet(t *testing.T) {
	tr, store := newTestTracker(t)

	d, err := tr.Create("gate cam", "camera")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.ID == "" || d.Name != "gate cam" || d.Type != "camera" {
		t.Errorf("Create() = %+v", d)
	}
	if store.saveCalls != 1 {
		t.Errorf("saveCalls = %d, want 1", store.saveCalls)
	}

	got, err := tr.Get(d.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("Get() = %q, want %q", got.ID, d.ID)
	}

	if _, err := tr.Get("dv-missing0"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestCreateValidatesName(t *testing.T) {
	tr, store := newTestTracker(t)

	if _, err := tr.Create("  ", "camera"); !errors.Is(err, device.ErrInvalidName) {
		t.Errorf("Create() error = %v, want ErrInvalidName", err)
	}
	if store.saveCalls != 0 {
		t.Error("invalid create reached the store")
	}
}

func TestCreateRollsBackOnSaveFailure(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	tr := New(store)
	if err := tr.Load(); err != nil {
		t.Fatal(err)
	}

	if _, err := tr.Create("gate cam", "camera"); err == nil {
		t.Fatal("Create() with failing store succeeded")
	}
	if tr.Count() != 0 {
		t.Errorf("Count() = %d after failed create, want 0", tr.Count())
	}
}

func TestUpdateFields(t *testing.T) {
	tr, _ := newTestTracker(t)
	d, err := tr.Create("gate cam", "camera")
	if err != nil {
		t.Fatal(err)
	}

	name := "north gate cam"
	notes := "mounted on pole 3"
	got, err := tr.Update(d.ID, Update{Name: &name, Notes: &notes})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != name || got.DisplayName != name || got.Notes != notes {
		t.Errorf("Update() = %+v", got)
	}
	if got.Type != "camera" {
		t.Errorf("untouched field changed: Type = %q", got.Type)
	}

	bad := ""
	if _, err := tr.Update(d.ID, Update{Name: &bad}); !errors.Is(err, device.ErrInvalidName) {
		t.Errorf("Update(empty name) error = %v, want ErrInvalidName", err)
	}
	if _, err := tr.Update("dv-missing0", Update{}); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	tr, _ := newTestTracker(t)
	d, err := tr.Create("gate cam", "camera")
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Delete(d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if tr.Count() != 0 {
		t.Errorf("Count() = %d after delete, want 0", tr.Count())
	}
	if err := tr.Delete(d.ID); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestListReturnsCopies(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Create("gate cam", "camera"); err != nil {
		t.Fatal(err)
	}

	list := tr.List()
	list[0].Name = "mutated"

	fresh := tr.List()
	if fresh[0].Name != "gate cam" {
		t.Error("mutation of listed device leaked into the tracker")
	}
}

func TestApplyBatchSavesOnce(t *testing.T) {
	tr, store := newTestTracker(t)

	payloads := []device.Payload{
		{Serial: "SN-1", Model: "A", Online: device.TriTrue},
		{Serial: "SN-2", Model: "A", Online: device.TriFalse},
		{Serial: "SN-1", Model: "A", Tampered: device.TriTrue},
		{Model: "A"}, // rejected: no serial
	}

	results, rejected, err := tr.ApplyBatch(context.Background(), payloads)
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if len(rejected) != 1 || !errors.Is(rejected[0], device.ErrMissingSerial) {
		t.Errorf("rejected = %v, want one ErrMissingSerial", rejected)
	}
	if store.saveCalls != 1 {
		t.Errorf("saveCalls = %d, want 1 per batch", store.saveCalls)
	}
	if tr.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tr.Count())
	}

	if results[0].Action != device.ActionCreated || results[2].Action != device.ActionUpdated {
		t.Errorf("actions = %q, %q", results[0].Action, results[2].Action)
	}
}

func TestApplyBatchEmptyDoesNotSave(t *testing.T) {
	tr, store := newTestTracker(t)

	results, rejected, err := tr.ApplyBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if len(results) != 0 || len(rejected) != 0 {
		t.Errorf("results/rejected = %d/%d, want 0/0", len(results), len(rejected))
	}
	if store.saveCalls != 0 {
		t.Errorf("saveCalls = %d, want 0 for empty batch", store.saveCalls)
	}
}

func TestApplyBatchArchivesAndExports(t *testing.T) {
	tr, _ := newTestTracker(t)
	hist := &memHistory{}
	metrics := &memMetrics{}
	tr.SetHistory(hist)
	tr.SetMetrics(metrics)

	payloads := []device.Payload{
		{Serial: "SN-1", Battery: device.OptionalInt{Value: 80, Set: true}, Online: device.TriTrue},
		{Serial: "SN-1", Battery: device.OptionalInt{Value: 75, Set: true}},
		{Serial: "SN-1", Battery: device.OptionalInt{Value: 75, Set: true}},
	}

	results, _, err := tr.ApplyBatch(context.Background(), payloads)
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatal("unexpected result count")
	}

	// Created + one battery change; the idempotent payload is not archived.
	if len(hist.entries) != 2 {
		t.Fatalf("archive entries = %d, want 2", len(hist.entries))
	}
	if hist.entries[0].Kind != string(device.EventImport) {
		t.Errorf("first archive kind = %q, want IMPORT", hist.entries[0].Kind)
	}
	if hist.entries[1].Detail != device.FieldBatteryPct {
		t.Errorf("second archive detail = %q, want battery_pct", hist.entries[1].Detail)
	}

	want := fmt.Sprintf("%s/battery_pct=75", results[0].DeviceID)
	found := false
	for _, w := range metrics.writes {
		if w == want {
			found = true
		}
	}
	if !found {
		t.Errorf("metric writes = %v, missing %q", metrics.writes, want)
	}
}

func TestImportFiles(t *testing.T) {
	tr, _ := newTestTracker(t)

	files := map[string][]device.Payload{
		"a.json": {{Serial: "SN-1"}, {Serial: "SN-2"}},
		"b.json": {{Serial: "SN-1"}, {}},
	}
	readFile := func(path string) ([]device.Payload, error) {
		batch, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("open %s: no such file", path)
		}
		return batch, nil
	}

	summary, err := tr.ImportFiles(context.Background(), readFile, []string{"a.json", "b.json", "missing.json"})
	if err != nil {
		t.Fatalf("ImportFiles() error = %v", err)
	}
	if summary.Created != 2 {
		t.Errorf("Created = %d, want 2", summary.Created)
	}
	if summary.NoChange != 1 {
		t.Errorf("NoChange = %d, want 1", summary.NoChange)
	}
	// One unreadable file, one payload without a serial.
	if summary.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", summary.TotalErrors)
	}
	if len(summary.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 samples", summary.Errors)
	}
}
