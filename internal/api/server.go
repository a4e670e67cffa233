package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Hawkyie/optechtracker/internal/history"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/config"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/logging"
	"github.com/Hawkyie/optechtracker/internal/poller"
	"github.com/Hawkyie/optechtracker/internal/telemetry"
	"github.com/Hawkyie/optechtracker/internal/tracker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConfigSaver persists runtime settings changes. Optional.
type ConfigSaver interface {
	SaveTelemetry(s config.TelemetryConfig) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Tracker   *tracker.Tracker
	Poller    *poller.Poller
	Telemetry *telemetry.Client
	History   *history.Repository // nil when the archive is disabled
	Saver     ConfigSaver         // nil when settings writes should not persist
	Version   string
}

// Server is the HTTP and WebSocket front end.
//
// It exposes the device collection, the sync cycle, and runtime
// settings to operator UIs, and pushes live updates out through the
// websocket hub.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	tracker   *tracker.Tracker
	poller    *poller.Poller
	telemetry *telemetry.Client
	history   *history.Repository
	saver     ConfigSaver
	version   string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates an API server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		tracker:   deps.Tracker,
		poller:    deps.Poller,
		telemetry: deps.Telemetry,
		history:   deps.History,
		saver:     deps.Saver,
		version:   deps.Version,
	}, nil
}

// Hub returns the websocket hub, creating it if needed. Exposed so the
// alert path can broadcast without going through HTTP.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening in a background goroutine. Stop with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	hub := s.Hub()
	go hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts the server down, waiting for in-flight
// requests up to the shutdown timeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": s.tracker.Count(),
	}
	if s.poller != nil {
		resp["sync_phase"] = s.poller.Phase()
	}
	writeJSON(w, http.StatusOK, resp)
}
