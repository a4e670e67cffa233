package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Hawkyie/optechtracker/internal/device"
)

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}

// Settings holds the mutable connection details for the telemetry source.
type Settings struct {
	// URL is the full endpoint the device feed is fetched from.
	URL string

	// Token is the bearer credential, with or without the scheme prefix.
	Token string

	// MediaBase is the base URL relative image IDs resolve against.
	MediaBase string
}

// Client fetches telemetry payloads from the configured remote feed.
//
// The endpoint settings can be swapped at runtime, so reads and writes
// go through a mutex; the underlying HTTP client is reused across
// reconfiguration.
type Client struct {
	http   *resty.Client
	logger Logger

	mu       sync.RWMutex
	settings Settings
}

// NewClient creates a telemetry client with the given initial settings.
func NewClient(s Settings) *Client {
	httpClient := resty.New().
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		logger:   noopLogger{},
		settings: s,
	}
}

// SetLogger attaches a logger for fetch diagnostics.
func (c *Client) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// Settings returns the current connection settings.
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings replaces the connection settings. Takes effect on the
// next fetch.
func (c *Client) UpdateSettings(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// FetchPayloads retrieves the current payload batch from the remote feed.
//
// The response may be a bare JSON array, a single object, or an envelope
// with a "results" array; all three normalise to a flat payload slice,
// with non-object entries discarded. Cancellation and deadline come from
// the caller's context.
func (c *Client) FetchPayloads(ctx context.Context) ([]device.Payload, error) {
	s := c.Settings()
	if s.URL == "" {
		return nil, ErrNoEndpoint
	}

	req := c.http.R().SetContext(ctx)
	if s.Token != "" {
		req.SetHeader("Authorization", bearerValue(s.Token))
	}

	resp, err := req.Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching telemetry: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetchFailed, s.URL, resp.Status())
	}

	payloads, err := parsePayloads(resp.Body())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("telemetry fetched", "url", s.URL, "payloads", len(payloads))
	return payloads, nil
}

// ResolveMediaURL turns an image reference into a fetchable URL.
//
// Full URLs pass through untouched. Bare IDs resolve against the
// configured media base, or against the feed's /api/media path when no
// base is set.
func (c *Client) ResolveMediaURL(ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	s := c.Settings()
	if s.MediaBase != "" {
		return strings.TrimSuffix(s.MediaBase, "/") + "/" + ref
	}
	base := strings.TrimSuffix(s.URL, "/")
	return base + "/api/media/" + ref
}

// bearerValue prefixes the scheme unless the token already carries one.
func bearerValue(token string) string {
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return token
	}
	return "Bearer " + token
}

// parsePayloads normalises a feed response body to a payload slice.
func parsePayloads(body []byte) ([]device.Payload, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}

	var raw json.RawMessage = []byte(trimmed)

	// Envelope form: {"results": [...]}
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if len(envelope.Results) > 0 {
			raw = envelope.Results
		} else {
			// Single object form.
			var p device.Payload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
			}
			return []device.Payload{p}, nil
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	payloads := make([]device.Payload, 0, len(items))
	for _, item := range items {
		if !strings.HasPrefix(strings.TrimSpace(string(item)), "{") {
			continue
		}
		var p device.Payload
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}
