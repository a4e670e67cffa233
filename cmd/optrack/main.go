// Optrack - field device tracking service
//
// Optrack polls an external telemetry feed, reconciles each payload
// batch into a locally persisted device collection, and exposes the
// result over a REST and websocket API. Safety-relevant transitions
// (tamper trips, devices dropping offline) raise alerts, optionally
// bridged to MQTT and exported to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Hawkyie/optechtracker/internal/api"
	"github.com/Hawkyie/optechtracker/internal/history"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/config"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/database"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/influxdb"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/logging"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/mqtt"
	"github.com/Hawkyie/optechtracker/internal/notify"
	"github.com/Hawkyie/optechtracker/internal/poller"
	"github.com/Hawkyie/optechtracker/internal/store"
	"github.com/Hawkyie/optechtracker/internal/telemetry"
	"github.com/Hawkyie/optechtracker/internal/tracker"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main so failures return
// through one exit path.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting optrack", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	// Device collection
	st := store.New(cfg.Store.Path)
	st.SetLogger(log)

	tr := tracker.New(st)
	tr.SetLogger(log)
	if err := tr.Load(); err != nil {
		return fmt.Errorf("loading device collection: %w", err)
	}
	log.Info("device collection loaded", "path", cfg.Store.Path, "devices", tr.Count())

	// Event archive (optional)
	var archive *history.Repository
	if cfg.History.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening history database: %w", dbErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		archive = history.NewRepository(db.DB)
		if initErr := archive.Init(ctx); initErr != nil {
			return fmt.Errorf("initialising event archive: %w", initErr)
		}
		tr.SetHistory(archive)
		log.Info("event archive ready", "path", cfg.History.Path)

		if cfg.History.RetentionDays > 0 {
			go pruneLoop(ctx, archive, cfg.History.RetentionDays, log)
		}
	} else {
		log.Info("event archive disabled")
	}

	// Metrics export (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, infErr := influxdb.Connect(cfg.InfluxDB)
		if infErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", infErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Close()
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		tr.SetMetrics(influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry feed
	feed := telemetry.NewClient(telemetry.Settings{
		URL:       cfg.Telemetry.URL,
		Token:     cfg.Telemetry.Token,
		MediaBase: cfg.Telemetry.MediaBase,
	})
	feed.SetLogger(log)

	// Sync loop
	p := poller.New(poller.Config{
		Interval:       cfg.GetPollInterval(),
		FetchTimeout:   cfg.GetFetchTimeout(),
		SignalDebounce: cfg.GetAlertDebounce(),
	}, feed, tr)
	p.SetLogger(log)

	// API server
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Tracker:   tr,
		Poller:    p,
		Telemetry: feed,
		History:   archive,
		Saver:     &configSaver{cfg: cfg, path: configPath},
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Alert fan-out: websocket hub always, archive and MQTT when enabled.
	notifiers := []poller.Notifier{server.Hub()}
	if archive != nil {
		sink := notify.NewArchiveSink(archive)
		sink.SetLogger(log)
		notifiers = append(notifiers, sink)
	}
	if cfg.MQTT.Enabled {
		mqttClient, mqErr := mqtt.Connect(cfg.MQTT)
		if mqErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqErr)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			mqttClient.Close()
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID)

		bridge := notify.NewMQTTBridge(mqttClient, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS))
		bridge.SetLogger(log)
		notifiers = append(notifiers, bridge)
	} else {
		log.Info("MQTT disabled")
	}
	p.SetNotifier(fanout(notifiers))

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go p.Start(ctx)
	defer p.Stop()

	log.Info("optrack running",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"poll_interval", cfg.GetPollInterval())

	<-ctx.Done()
	log.Info("shutting down", "reason", ctx.Err())
	return nil
}

// pruneLoop removes archived events past the retention window, once at
// startup and then daily.
func pruneLoop(ctx context.Context, archive *history.Repository, retentionDays int, log *logging.Logger) {
	retention := time.Duration(retentionDays) * 24 * time.Hour

	prune := func() {
		removed, err := archive.Prune(ctx, retention)
		if err != nil {
			log.Warn("pruning event archive failed", "error", err)
			return
		}
		if removed > 0 {
			log.Info("pruned event archive", "removed", removed, "retention_days", retentionDays)
		}
	}

	prune()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses the OPTRACK_CONFIG environment variable if set.
func getConfigPath() string {
	if path := os.Getenv("OPTRACK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// configSaver writes telemetry settings changes back to the config file.
type configSaver struct {
	mu   sync.Mutex
	cfg  *config.Config
	path string
}

func (s *configSaver) SaveTelemetry(t config.TelemetryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Only the operator-editable fields change; poll timing stays as
	// configured.
	s.cfg.Telemetry.URL = t.URL
	s.cfg.Telemetry.Token = t.Token
	s.cfg.Telemetry.MediaBase = t.MediaBase
	return s.cfg.Save(s.path)
}

// multiNotifier fans alerts out to several sinks.
type multiNotifier []poller.Notifier

func (m multiNotifier) NotifyAlert(a poller.Alert) {
	for _, n := range m {
		n.NotifyAlert(a)
	}
}

func (m multiNotifier) Signal(alertCount int) {
	for _, n := range m {
		n.Signal(alertCount)
	}
}

func fanout(notifiers []poller.Notifier) poller.Notifier {
	if len(notifiers) == 1 {
		return notifiers[0]
	}
	return multiNotifier(notifiers)
}
