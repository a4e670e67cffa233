package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hawkyie/optechtracker/internal/device"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/config"
	"github.com/Hawkyie/optechtracker/internal/infrastructure/logging"
	"github.com/Hawkyie/optechtracker/internal/poller"
	"github.com/Hawkyie/optechtracker/internal/store"
	"github.com/Hawkyie/optechtracker/internal/telemetry"
	"github.com/Hawkyie/optechtracker/internal/tracker"
)

// testServer creates a Server with a real tracker backed by a temp file
// store. The optional feed body is served to the telemetry client.
func testServer(t *testing.T, token string, feedBody string) (*Server, *tracker.Tracker) {
	t.Helper()

	st := store.New(filepath.Join(t.TempDir(), "devices.json"))
	tr := tracker.New(st)
	if err := tr.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(feedBody))
	}))
	t.Cleanup(feed.Close)

	tc := telemetry.NewClient(telemetry.Settings{URL: feed.URL})
	p := poller.New(poller.Config{
		Interval:       time.Hour,
		FetchTimeout:   2 * time.Second,
		SignalDebounce: 10 * time.Second,
	}, tc, tr)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:  "127.0.0.1",
			Port:  0,
			Token: token,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    log,
		Tracker:   tr,
		Poller:    p,
		Telemetry: tc,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, tr
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := testServer(t, "secret", `[]`)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := testServer(t, "secret", `[]`)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	srv, _ := testServer(t, "", `[]`)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestDeviceCRUD(t *testing.T) {
	srv, _ := testServer(t, "", `[]`)

	// Create
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices/", "", createDeviceRequest{
		Name: "gate cam",
		Type: "camera",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created device.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Name != "gate cam" {
		t.Errorf("created = %+v", created)
	}

	// Get
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/"+created.ID+"/", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	// Patch
	notes := "pole 3"
	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/devices/"+created.ID+"/", "", updateDeviceRequest{
		Notes: &notes,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	var patched device.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &patched); err != nil {
		t.Fatal(err)
	}
	if patched.Notes != "pole 3" {
		t.Errorf("patched notes = %q", patched.Notes)
	}

	// Delete
	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/devices/"+created.ID+"/", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/"+created.ID+"/", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestCreateDeviceValidation(t *testing.T) {
	srv, _ := testServer(t, "", `[]`)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices/", "", createDeviceRequest{Name: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", rec.Code)
	}
}

func TestRefreshReconciles(t *testing.T) {
	srv, tr := testServer(t, "", `[
		{"serial": "SN-1", "model": "TrailCam", "online": true},
		{"serial": "SN-2", "model": "TrailCam", "online": false, "tampered": true}
	]`)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/refresh", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}

	var stats poller.CycleStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Fetched != 2 || stats.Created != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if tr.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tr.Count())
	}
}

func TestRefreshSurfacesFetchError(t *testing.T) {
	srv, _ := testServer(t, "", `[]`)
	srv.telemetry.UpdateSettings(telemetry.Settings{URL: "http://127.0.0.1:1"})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/refresh", "", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("refresh status = %d, want 502", rec.Code)
	}
}

func TestDeviceEventsMemoryFallback(t *testing.T) {
	srv, _ := testServer(t, "", `[{"serial": "SN-1", "timestamp": "2026-08-29T10:00:00Z"}]`)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/refresh", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}

	list := doRequest(t, srv, http.MethodGet, "/api/v1/devices/", "", nil)
	var body struct {
		Devices []device.Device `json:"devices"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(body.Devices))
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/"+body.Devices[0].ID+"/events", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var events struct {
		Source string               `json:"source"`
		Events []device.EventRecord `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if events.Source != "memory" || len(events.Events) != 1 {
		t.Errorf("events = %+v", events)
	}
}

func TestImport(t *testing.T) {
	srv, tr := testServer(t, "", `[]`)

	path := filepath.Join(t.TempDir(), "dump.json")
	if err := os.WriteFile(path, []byte(`[{"serial": "SN-10"}, {"serial": "SN-11"}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", "", importRequest{Paths: []string{path}})
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body.String())
	}

	var summary tracker.ImportSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Created != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if tr.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tr.Count())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/import", "", importRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty import status = %d, want 400", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := testServer(t, "", `[]`)

	url := "https://feed.example/devices"
	tok := "feed-token"
	rec := doRequest(t, srv, http.MethodPut, "/api/v1/settings", "", settingsRequest{
		URL:   &url,
		Token: &tok,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put settings status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/settings", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get settings status = %d", rec.Code)
	}
	var got settingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.URL != url {
		t.Errorf("URL = %q, want %q", got.URL, url)
	}
	// The raw token never comes back.
	if !got.TokenSet {
		t.Error("TokenSet = false, want true")
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(tok)) {
		t.Error("settings response leaks the token")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t, "", `[]`)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	out := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(out, req)
	if out.Header().Get("X-Request-ID") != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want client-supplied value", out.Header().Get("X-Request-ID"))
	}
}

func TestHubBroadcastSubscriptions(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{ChannelAlert: {}},
	}
	hub.Register(client)
	defer hub.Unregister(client)

	hub.Broadcast(ChannelAlert, map[string]string{"kind": "TAMPERED"})
	hub.Broadcast(ChannelSyncCycle, map[string]string{"phase": "idle"})

	if got := len(client.send); got != 1 {
		t.Fatalf("queued messages = %d, want only subscribed channel", got)
	}

	var msg WSMessage
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != ChannelAlert {
		t.Errorf("broadcast message = %+v", msg)
	}
}

func TestHealthReportsDeviceCount(t *testing.T) {
	srv, tr := testServer(t, "", `[]`)
	for i := 0; i < 3; i++ {
		if _, err := tr.Create(fmt.Sprintf("cam %d", i), "camera"); err != nil {
			t.Fatal(err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["devices"] != float64(3) {
		t.Errorf("devices = %v, want 3", body["devices"])
	}
}
