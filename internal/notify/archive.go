package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Hawkyie/optechtracker/internal/history"
	"github.com/Hawkyie/optechtracker/internal/poller"
)

const archiveTimeout = 5 * time.Second

// Recorder is the archive-facing side of the sink.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// ArchiveSink appends alerts to the event archive.
//
// Archive failures are logged and dropped; an unreachable archive never
// blocks alert delivery to the other sinks.
type ArchiveSink struct {
	rec    Recorder
	logger Logger
}

// NewArchiveSink creates an alert sink on an initialised archive.
func NewArchiveSink(rec Recorder) *ArchiveSink {
	return &ArchiveSink{
		rec:    rec,
		logger: noopLogger{},
	}
}

// SetLogger attaches a logger for record failures.
func (s *ArchiveSink) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// NotifyAlert archives one alert as an event with kind "alert".
func (s *ArchiveSink) NotifyAlert(a poller.Alert) {
	detail, err := json.Marshal(a)
	if err != nil {
		s.logger.Warn("encoding alert failed", "device", a.DeviceID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	entry := history.Entry{
		DeviceID: a.DeviceID,
		Serial:   a.Serial,
		Kind:     "alert",
		Detail:   string(detail),
	}
	if err := s.rec.Record(ctx, entry); err != nil {
		s.logger.Warn("archiving alert failed", "device", a.DeviceID, "error", err)
	}
}

// Signal is a no-op; the attention signal is transient and not archived.
func (s *ArchiveSink) Signal(alertCount int) {}
