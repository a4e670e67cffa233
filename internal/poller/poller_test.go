package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hawkyie/optechtracker/internal/device"
)

type stubFetcher struct {
	payloads []device.Payload
	err      error
	block    chan struct{}
}

func (f *stubFetcher) FetchPayloads(ctx context.Context) ([]device.Payload, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.payloads, f.err
}

type stubApplier struct {
	results  []device.Result
	rejected []error
	err      error
}

func (a *stubApplier) ApplyBatch(_ context.Context, payloads []device.Payload) ([]device.Result, []error, error) {
	return a.results, a.rejected, a.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	alerts  []Alert
	signals []int
}

func (n *recordingNotifier) NotifyAlert(a Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) Signal(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, count)
}

func testConfig() Config {
	return Config{
		Interval:       time.Hour,
		FetchTimeout:   time.Second,
		SignalDebounce: 10 * time.Second,
	}
}

func TestRunCycleStats(t *testing.T) {
	fetcher := &stubFetcher{payloads: []device.Payload{{Serial: "SN-1"}, {Serial: "SN-2"}, {}}}
	applier := &stubApplier{
		results: []device.Result{
			{Action: device.ActionCreated, DeviceID: "dv-1"},
			{Action: device.ActionUpdated, DeviceID: "dv-2"},
		},
		rejected: []error{device.ErrMissingSerial},
	}

	p := New(testConfig(), fetcher, applier)
	stats, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Fetched != 3 || stats.Created != 1 || stats.Updated != 1 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if p.Phase() != PhaseIdle {
		t.Errorf("Phase() after cycle = %q, want idle", p.Phase())
	}
}

func TestRunCycleFetchError(t *testing.T) {
	fetchErr := errors.New("feed unreachable")
	p := New(testConfig(), &stubFetcher{err: fetchErr}, &stubApplier{})

	if _, err := p.RunCycle(context.Background()); !errors.Is(err, fetchErr) {
		t.Errorf("RunCycle() error = %v, want fetch error", err)
	}
	if p.Phase() != PhaseIdle {
		t.Errorf("Phase() after failed cycle = %q, want idle", p.Phase())
	}
}

func TestRunCycleFetchTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FetchTimeout = 20 * time.Millisecond

	fetcher := &stubFetcher{block: make(chan struct{})}
	p := New(cfg, fetcher, &stubApplier{})

	start := time.Now()
	_, err := p.RunCycle(context.Background())
	if err == nil {
		t.Fatal("RunCycle() with blocked fetch succeeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch not bounded by timeout, took %v", elapsed)
	}
}

func TestRunCycleSkipsWhenBusy(t *testing.T) {
	block := make(chan struct{})
	fetcher := &stubFetcher{block: block}
	p := New(testConfig(), fetcher, &stubApplier{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.RunCycle(context.Background())
	}()

	// Wait for the first cycle to enter its fetch phase.
	deadline := time.After(time.Second)
	for p.Phase() != PhaseFetching {
		select {
		case <-deadline:
			t.Fatal("first cycle never started fetching")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := p.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("overlapping RunCycle() error = %v, want ErrCycleInProgress", err)
	}

	close(block)
	<-done

	// After the first cycle finishes, new cycles run again.
	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Errorf("RunCycle() after completion error = %v", err)
	}
}

func TestAlertDerivation(t *testing.T) {
	results := []device.Result{
		{DeviceID: "dv-1", TamperChanged: true, Tamper: device.TamperTripped},
		{DeviceID: "dv-2", TamperChanged: true, Tamper: device.TamperOK},
		{DeviceID: "dv-3", ConnChanged: true, Connectivity: device.ConnectivityOffline},
		{DeviceID: "dv-4", ConnChanged: false, Connectivity: device.ConnectivityOffline},
		{DeviceID: "dv-5", TamperChanged: true, Tamper: device.TamperTripped, ConnChanged: true, Connectivity: device.ConnectivityOffline},
	}

	alerts := deriveAlerts(results, time.Now())
	if len(alerts) != 4 {
		t.Fatalf("alerts = %d, want 4", len(alerts))
	}

	kinds := map[string]AlertKind{}
	for _, a := range alerts {
		kinds[a.DeviceID+"/"+string(a.Kind)] = a.Kind
	}
	for _, want := range []string{"dv-1/TAMPERED", "dv-3/OFFLINE", "dv-5/TAMPERED", "dv-5/OFFLINE"} {
		if _, ok := kinds[want]; !ok {
			t.Errorf("missing alert %s", want)
		}
	}
}

func TestSignalDebounce(t *testing.T) {
	fetcher := &stubFetcher{payloads: []device.Payload{{Serial: "SN-1"}}}
	applier := &stubApplier{
		results: []device.Result{
			{DeviceID: "dv-1", TamperChanged: true, Tamper: device.TamperTripped},
		},
	}

	cfg := testConfig()
	cfg.SignalDebounce = time.Hour

	p := New(cfg, fetcher, applier)
	notifier := &recordingNotifier{}
	p.SetNotifier(notifier)

	for i := 0; i < 3; i++ {
		if _, err := p.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() #%d error = %v", i, err)
		}
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	// Every alert is delivered; the attention signal fires once.
	if len(notifier.alerts) != 3 {
		t.Errorf("alerts delivered = %d, want 3", len(notifier.alerts))
	}
	if len(notifier.signals) != 1 {
		t.Errorf("signals = %d, want 1 within debounce window", len(notifier.signals))
	}
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond

	fetcher := &stubFetcher{payloads: nil}
	p := New(cfg, fetcher, &stubApplier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	p.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
