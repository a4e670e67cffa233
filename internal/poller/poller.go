package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hawkyie/optechtracker/internal/device"
)

// ErrCycleInProgress is returned when a refresh is requested while a
// cycle is already running. The request is skipped, never queued.
var ErrCycleInProgress = errors.New("poller: cycle already in progress")

// Phase names one stage of a sync cycle, for logging and the UI.
type Phase string

// Phase values, in cycle order.
const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseReconciling Phase = "reconciling"
	PhasePersisting  Phase = "persisting"
	PhaseNotifying   Phase = "notifying"
)

// AlertKind classifies a safety-relevant transition.
type AlertKind string

// AlertKind values.
const (
	AlertTamper  AlertKind = "TAMPERED"
	AlertOffline AlertKind = "OFFLINE"
)

// Alert describes one safety-relevant transition observed in a cycle.
type Alert struct {
	DeviceID string    `json:"device_id"`
	Serial   string    `json:"serial"`
	Model    string    `json:"model,omitempty"`
	Kind     AlertKind `json:"kind"`
	At       time.Time `json:"at"`
}

// CycleStats summarises one completed sync cycle.
type CycleStats struct {
	Fetched  int     `json:"fetched"`
	Created  int     `json:"created"`
	Updated  int     `json:"updated"`
	NoChange int     `json:"no_change"`
	Rejected int     `json:"rejected"`
	Alerts   []Alert `json:"alerts,omitempty"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Fetcher retrieves the current telemetry batch.
type Fetcher interface {
	FetchPayloads(ctx context.Context) ([]device.Payload, error)
}

// Applier reconciles a batch into the device collection.
type Applier interface {
	ApplyBatch(ctx context.Context, payloads []device.Payload) ([]device.Result, []error, error)
}

// Notifier receives alerts and the debounced attention signal. Optional.
type Notifier interface {
	NotifyAlert(a Alert)
	Signal(alertCount int)
}

// Logger is the minimal logging interface the poller needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Config holds poller timing.
type Config struct {
	// Interval between periodic cycles.
	Interval time.Duration

	// FetchTimeout bounds the fetch phase of each cycle.
	FetchTimeout time.Duration

	// SignalDebounce is the minimum gap between attention signals.
	SignalDebounce time.Duration
}

// Poller drives periodic sync cycles against the telemetry feed.
//
// At most one cycle runs at a time. A tick or manual refresh arriving
// while a cycle is in flight is skipped; the next tick picks up whatever
// the skipped one would have fetched. Periodic cycle failures are logged
// and swallowed so one bad poll never stops the loop; manual refreshes
// surface their error to the caller.
type Poller struct {
	cfg      Config
	fetcher  Fetcher
	applier  Applier
	notifier Notifier
	logger   Logger

	running    atomic.Bool
	phase      atomic.Value // Phase
	lastSignal time.Time
	signalMu   sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a poller. Interval and FetchTimeout must be positive.
func New(cfg Config, fetcher Fetcher, applier Applier) *Poller {
	p := &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		applier: applier,
		logger:  noopLogger{},
		stopped: make(chan struct{}),
	}
	p.phase.Store(PhaseIdle)
	return p
}

// SetLogger attaches a logger for cycle diagnostics.
func (p *Poller) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetNotifier attaches the optional alert sink.
func (p *Poller) SetNotifier(n Notifier) {
	p.notifier = n
}

// Phase returns the current cycle phase.
func (p *Poller) Phase() Phase {
	return p.phase.Load().(Phase)
}

// Start runs the periodic loop until the context is cancelled or Stop
// is called. It blocks; run it in its own goroutine.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped", "reason", ctx.Err())
			return
		case <-p.stopped:
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			if _, err := p.RunCycle(ctx); err != nil {
				if errors.Is(err, ErrCycleInProgress) {
					p.logger.Debug("tick skipped, cycle in progress")
					continue
				}
				// Periodic failures are logged and swallowed.
				p.logger.Warn("sync cycle failed", "error", err)
			}
		}
	}
}

// Stop terminates the periodic loop. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// RunCycle executes one full sync cycle and returns its stats.
//
// Exported so a user-triggered refresh can run the same path as the
// ticker and see the error the periodic loop would have swallowed.
// Returns ErrCycleInProgress when a cycle is already running.
func (p *Poller) RunCycle(ctx context.Context) (CycleStats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return CycleStats{}, ErrCycleInProgress
	}
	defer func() {
		p.phase.Store(PhaseIdle)
		p.running.Store(false)
	}()

	stats := CycleStats{Started: time.Now().UTC()}

	p.phase.Store(PhaseFetching)
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	payloads, err := p.fetcher.FetchPayloads(fetchCtx)
	cancel()
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(payloads)

	p.phase.Store(PhaseReconciling)
	results, rejected, err := p.applier.ApplyBatch(ctx, payloads)
	stats.Rejected = len(rejected)
	for _, res := range results {
		switch res.Action {
		case device.ActionCreated:
			stats.Created++
		case device.ActionUpdated:
			stats.Updated++
		default:
			stats.NoChange++
		}
	}
	if err != nil {
		// Reconciliation happened but persisting the batch failed.
		p.phase.Store(PhasePersisting)
		return stats, err
	}

	p.phase.Store(PhaseNotifying)
	stats.Alerts = deriveAlerts(results, stats.Started)
	p.dispatch(stats.Alerts)

	stats.Duration = time.Since(stats.Started)
	p.logger.Debug("sync cycle complete",
		"fetched", stats.Fetched,
		"created", stats.Created,
		"updated", stats.Updated,
		"no_change", stats.NoChange,
		"rejected", stats.Rejected,
		"alerts", len(stats.Alerts),
		"duration", stats.Duration)

	return stats, nil
}

// deriveAlerts extracts safety-relevant transitions from a batch of
// reconciliation results. Only genuine transitions alert: a device that
// stays TAMPERED or OFFLINE across cycles raises nothing new.
func deriveAlerts(results []device.Result, at time.Time) []Alert {
	var alerts []Alert
	for _, res := range results {
		if res.TamperChanged && res.Tamper == device.TamperTripped {
			alerts = append(alerts, Alert{
				DeviceID: res.DeviceID,
				Serial:   res.Serial,
				Model:    res.Model,
				Kind:     AlertTamper,
				At:       at,
			})
		}
		if res.ConnChanged && res.Connectivity == device.ConnectivityOffline {
			alerts = append(alerts, Alert{
				DeviceID: res.DeviceID,
				Serial:   res.Serial,
				Model:    res.Model,
				Kind:     AlertOffline,
				At:       at,
			})
		}
	}
	return alerts
}

// dispatch logs every alert and forwards them to the notifier. The
// attention signal is debounced; individual alerts never are.
func (p *Poller) dispatch(alerts []Alert) {
	for _, a := range alerts {
		p.logger.Warn("device alert",
			"kind", a.Kind,
			"device", a.DeviceID,
			"serial", a.Serial)
		if p.notifier != nil {
			p.notifier.NotifyAlert(a)
		}
	}

	if len(alerts) == 0 || p.notifier == nil {
		return
	}

	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	now := time.Now()
	if now.Sub(p.lastSignal) < p.cfg.SignalDebounce {
		return
	}
	p.lastSignal = now
	p.notifier.Signal(len(alerts))
}
