package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Hawkyie/optechtracker/internal/device"
)

// Logger is the minimal logging interface the store needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Store persists the device collection as a single JSON document.
//
// Writes are atomic: the document is written to a temporary file in the
// destination directory, synced, then renamed over the target, so a
// crash mid-write never leaves a partially written collection behind.
type Store struct {
	path   string
	logger Logger
}

// New creates a store backed by the given file path.
func New(path string) *Store {
	return &Store{
		path:   path,
		logger: noopLogger{},
	}
}

// SetLogger attaches a logger for operational messages.
func (s *Store) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the device collection from disk.
//
// A missing file is first run, not an error, and yields an empty
// collection. A file that exists but does not parse is quarantined by
// copying it aside to <path>.corrupt (best effort) and an empty
// collection is returned; persisted history is not worth refusing to
// start over. Only genuine read failures are returned as errors.
func (s *Store) Load() ([]*device.Device, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var devices []*device.Device
	if err := json.Unmarshal(data, &devices); err != nil {
		s.quarantine(data, err)
		return nil, nil
	}

	return devices, nil
}

// quarantine copies an unparseable store file aside for inspection.
func (s *Store) quarantine(data []byte, cause error) {
	backup := s.path + ".corrupt"
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		s.logger.Error("store file corrupt, backup failed",
			"path", s.path, "parse_error", cause, "backup_error", err)
		return
	}
	s.logger.Warn("store file corrupt, starting with empty collection",
		"path", s.path, "backup", backup, "parse_error", cause)
}

// Save atomically writes the device collection to disk.
func (s *Store) Save(devices []*device.Device) error {
	if devices == nil {
		devices = []*device.Device{}
	}

	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	// Temp file must live in the destination directory so the final
	// rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}

	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
