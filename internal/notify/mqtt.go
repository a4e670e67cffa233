package notify

import (
	"encoding/json"
	"time"

	"github.com/Hawkyie/optechtracker/internal/poller"
)

// Publisher is the broker-facing side of the bridge.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger is the minimal logging interface the bridge needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(msg string, args ...any) {}

// MQTTBridge republishes device alerts to an MQTT broker.
//
// Per-device alerts go to <prefix>/alerts/<serial> and the debounced
// attention signal to <prefix>/alerts/signal. Publish failures are
// logged and dropped; alerting downstream is best effort, the
// authoritative record is the service log.
type MQTTBridge struct {
	pub    Publisher
	prefix string
	qos    byte
	logger Logger
}

// NewMQTTBridge creates an alert bridge on a connected publisher.
func NewMQTTBridge(pub Publisher, topicPrefix string, qos byte) *MQTTBridge {
	return &MQTTBridge{
		pub:    pub,
		prefix: topicPrefix,
		qos:    qos,
		logger: noopLogger{},
	}
}

// SetLogger attaches a logger for publish failures.
func (b *MQTTBridge) SetLogger(l Logger) {
	if l != nil {
		b.logger = l
	}
}

// NotifyAlert publishes one alert to its per-device topic.
func (b *MQTTBridge) NotifyAlert(a poller.Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		b.logger.Warn("encoding alert failed", "device", a.DeviceID, "error", err)
		return
	}

	topic := b.prefix + "/alerts/" + topicSegment(a.Serial, a.DeviceID)
	if err := b.pub.Publish(topic, body, b.qos, false); err != nil {
		b.logger.Warn("publishing alert failed", "topic", topic, "error", err)
	}
}

// Signal publishes the debounced attention signal.
func (b *MQTTBridge) Signal(alertCount int) {
	body, err := json.Marshal(map[string]any{
		"alerts": alertCount,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	topic := b.prefix + "/alerts/signal"
	if err := b.pub.Publish(topic, body, b.qos, false); err != nil {
		b.logger.Warn("publishing signal failed", "topic", topic, "error", err)
	}
}

// topicSegment picks a non-empty topic segment for a device, falling
// back to the opaque ID when the serial is blank.
func topicSegment(serial, deviceID string) string {
	if serial != "" {
		return serial
	}
	return deviceID
}
