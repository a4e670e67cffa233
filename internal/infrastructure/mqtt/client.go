package mqtt

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Hawkyie/optechtracker/internal/infrastructure/config"
)

const (
	// connectTimeout is the maximum time to wait for the initial connection.
	connectTimeout = 10 * time.Second

	// publishTimeout is the maximum time to wait for publish acknowledgment.
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is the time allowed for in-flight messages on
	// shutdown, in milliseconds.
	disconnectQuiesce = 1000

	keepAlive = 60 * time.Second

	// reconnect backoff bounds.
	reconnectInitial = 1 * time.Second
	reconnectMax     = 60 * time.Second

	maxQoS = 2

	// maxPayloadSize caps published messages at 256KB; alert payloads
	// are tiny and anything larger indicates a bug upstream.
	maxPayloadSize = 256 << 10
)

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client is a publish-only MQTT client for the alert bridge.
//
// The tracker never consumes MQTT traffic, so there is no subscription
// machinery; the client connects, republishes alerts, and reconnects
// with exponential backoff when the broker disappears. All methods are
// safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect establishes a connection to the configured broker.
//
// A Last Will is registered so subscribers can tell an unexpected drop
// from a graceful shutdown. Fails if the broker cannot be reached within
// the connect timeout; after that, reconnection is automatic.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	opts.SetWill(cfg.TopicPrefix+"/system/status", statusPayload(cfg.Broker.ClientID, "offline"), 1, true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
		if err := c.Publish(cfg.TopicPrefix+"/system/status", []byte(statusPayload(cfg.Broker.ClientID, "online")), 1, true); err != nil {
			c.warn("publishing online status failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.setConnected(false)
		c.warn("broker connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.setConnected(true)
	return c, nil
}

// SetLogger attaches a logger for connection diagnostics.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = l
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Publish sends a message to the given topic and waits for the broker
// to acknowledge it, bounded by the publish timeout.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	if c.IsConnected() {
		if err := c.Publish(c.cfg.TopicPrefix+"/system/status", []byte(statusPayload(c.cfg.Broker.ClientID, "offline")), 1, true); err != nil {
			c.warn("publishing offline status failed", "error", err)
		}
	}
	c.client.Disconnect(disconnectQuiesce)
	c.setConnected(false)
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

func (c *Client) warn(msg string, args ...any) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l != nil {
		l.Warn(msg, args...)
	}
}

// buildClientOptions maps our config onto paho client options.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInitial)
	opts.SetMaxReconnectInterval(reconnectMax)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// statusPayload builds the JSON body for system status messages.
func statusPayload(clientID, status string) string {
	return fmt.Sprintf(
		`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
