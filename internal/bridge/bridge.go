package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/velotrack/bike-telemetry-worker/internal/metrics"
	"github.com/velotrack/bike-telemetry-worker/internal/mq"
	"github.com/velotrack/bike-telemetry-worker/internal/topic"
	"go.uber.org/zap"
)

// controlUnits maps a control type to the unit published with the command.
var controlUnits = map[string]string{
	"resistance":       "percent",
	"incline":          "percent",
	"fan":              "percent",
	"target_power":     "watts",
	"target_cadence":   "rpm",
	"target_heartrate": "bpm",
}

// SensorEnvelope is the message pushed to live clients on fan-out.
type SensorEnvelope struct {
	Topic      string          `json:"topic"`
	DeviceID   string          `json:"deviceId"`
	DeviceType string          `json:"deviceType"`
	IsReport   bool            `json:"isReport"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt int64           `json:"receivedAt"`
}

// ControlCommand is the reverse-path payload published to a device's
// control topic.
type ControlCommand struct {
	DeviceID  string  `json:"deviceId"`
	Value     float64 `json:"value"`
	UnitName  string  `json:"unitName"`
	Command   string  `json:"command"`
	Timestamp int64   `json:"timestamp"`
}

// Bridge fans processed readings out to live subscribers and carries
// control commands back onto the broker.
type Bridge struct {
	registry    *Registry
	router      *topic.Router
	publisher   *mq.Publisher
	collector   *metrics.Collector
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewBridge creates a new distribution bridge
func NewBridge(
	registry *Registry,
	router *topic.Router,
	publisher *mq.Publisher,
	collector *metrics.Collector,
	idleTimeout time.Duration,
	logger *zap.Logger,
) *Bridge {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Bridge{
		registry:    registry,
		router:      router,
		publisher:   publisher,
		collector:   collector,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Registry exposes the connection table for the liveness surface.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Connect registers a new connection for the given transport.
func (b *Bridge) Connect(kind TransportKind, transport Transport) *Connection {
	conn := newConnection(uuid.NewString(), kind, transport, time.Now())
	b.registry.Add(conn)
	if b.collector != nil {
		b.collector.Connections.Set(float64(b.registry.Count()))
	}
	b.logger.Info("client connected",
		zap.String("connection_id", conn.ID),
		zap.String("transport", string(kind)),
	)
	return conn
}

// Subscribe joins the connection to one room per sensor type and returns
// the resolved set.
func (b *Bridge) Subscribe(connectionID, deviceID string, sensorTypes []string) ([]string, error) {
	conn, ok := b.registry.Get(connectionID)
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connectionID)
	}

	resolved := make([]string, 0, len(sensorTypes))
	for _, sensorType := range sensorTypes {
		conn.Join(RoomKey{DeviceID: deviceID, SensorType: sensorType})
		resolved = append(resolved, sensorType)
	}
	conn.Touch()

	b.logger.Info("client subscribed",
		zap.String("connection_id", connectionID),
		zap.String("device_id", deviceID),
		zap.Strings("sensor_types", resolved),
	)

	return resolved, nil
}

// Disconnect removes the connection immediately and closes its transport.
func (b *Bridge) Disconnect(connectionID string) {
	conn := b.registry.Remove(connectionID)
	if conn == nil {
		return
	}
	_ = conn.transport.Close()
	if b.collector != nil {
		b.collector.Connections.Set(float64(b.registry.Count()))
	}
	b.logger.Info("client disconnected", zap.String("connection_id", connectionID))
}

// Fanout parses the topic, wraps the payload in an envelope, and pushes it
// to every connection subscribed to the room. Event-stream connections
// receive every message regardless of subscription.
func (b *Bridge) Fanout(topicName string, payload []byte) {
	route, ok := b.router.Parse(topicName)
	if !ok || route.IsControl {
		return
	}

	envelope := SensorEnvelope{
		Topic:      topicName,
		DeviceID:   route.DeviceID,
		DeviceType: route.SensorType,
		IsReport:   strings.HasSuffix(route.SensorType, "report"),
		Data:       json.RawMessage(payload),
		ReceivedAt: time.Now().Unix(),
	}

	// Event-stream clients get the bare envelope; socket clients get it
	// wrapped in the sensor_data event frame.
	envFrame, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Error("failed to marshal fan-out envelope", zap.Error(err))
		return
	}
	eventFrame, err := json.Marshal(serverEvent{Event: "sensor_data", Payload: envelope})
	if err != nil {
		b.logger.Error("failed to marshal fan-out event", zap.Error(err))
		return
	}

	room := RoomKey{DeviceID: route.DeviceID, SensorType: route.SensorType}
	for _, conn := range b.registry.Snapshot() {
		frame := envFrame
		if conn.Kind == TransportWebSocket {
			if !conn.Subscribed(room) {
				continue
			}
			frame = eventFrame
		}
		if err := conn.transport.Send(frame); err != nil {
			b.logger.Warn("fan-out delivery failed, dropping connection",
				zap.String("connection_id", conn.ID),
				zap.Error(err),
			)
			b.Disconnect(conn.ID)
			continue
		}
		conn.Touch()
		if b.collector != nil {
			b.collector.FanoutSent.Inc()
		}
	}
}

// PublishControl builds a control command and publishes it to the device's
// control topic, returning the command and the topic it went to. A publish
// failure is returned to the caller only; there is no retry.
func (b *Bridge) PublishControl(deviceID, controlType string, value float64, command string) (ControlCommand, string, error) {
	cmd := ControlCommand{
		DeviceID:  deviceID,
		Value:     value,
		UnitName:  controlUnits[controlType],
		Command:   command,
		Timestamp: time.Now().Unix(),
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return cmd, "", fmt.Errorf("failed to marshal control command: %w", err)
	}

	controlTopic := b.router.ControlTopic(deviceID, controlType)
	if err := b.publisher.Publish(controlTopic, deviceID, body, nil); err != nil {
		return cmd, controlTopic, fmt.Errorf("failed to publish control command: %w", err)
	}

	b.logger.Info("control command published",
		zap.String("topic", controlTopic),
		zap.String("device_id", deviceID),
		zap.String("control_type", controlType),
	)

	return cmd, controlTopic, nil
}

// Reap removes every connection idle beyond the threshold. Returns the
// number of connections removed.
func (b *Bridge) Reap(now time.Time) int {
	reaped := 0
	for _, conn := range b.registry.Snapshot() {
		if now.Sub(conn.LastActivity()) > b.idleTimeout {
			b.logger.Info("reaping idle connection",
				zap.String("connection_id", conn.ID),
				zap.Time("last_activity", conn.LastActivity()),
			)
			b.Disconnect(conn.ID)
			reaped++
		}
	}
	return reaped
}

// CloseAll drops every live connection. Used on shutdown; pending fan-out
// is not drained.
func (b *Bridge) CloseAll() {
	for _, conn := range b.registry.Snapshot() {
		b.Disconnect(conn.ID)
	}
}

// serverEvent is the framing for server-to-client websocket messages.
type serverEvent struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}
