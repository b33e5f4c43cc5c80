package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 1024                // Maximum message size allowed from peer.
	sendBufferSize = 64                  // Outbound frames buffered per connection.
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientEvent is the decoded form of a client-to-server socket message.
type clientEvent struct {
	Event       string   `json:"event"`
	DeviceID    string   `json:"deviceId"`
	SensorTypes []string `json:"sensorTypes"`
	ControlType string   `json:"controlType"`
	Value       float64  `json:"value"`
	Command     string   `json:"command"`
}

// wsTransport adapts a websocket connection to the Transport interface.
// Frames pass through a buffered channel drained by the write pump.
type wsTransport struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn, send: make(chan []byte, sendBufferSize)}
}

func (t *wsTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case t.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.send)
	}
	return nil
}

// HandleWebSocket upgrades the request and runs the connection until the
// client goes away or the bridge drops it.
func (b *Bridge) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	transport := newWSTransport(wsConn)
	conn := b.Connect(TransportWebSocket, transport)

	go b.writePump(transport)
	b.readPump(conn, transport)
}

// readPump pumps client events into the bridge. Blocks until the socket
// closes; the connection is removed from the registry on the way out.
func (b *Bridge) readPump(conn *Connection, transport *wsTransport) {
	defer b.Disconnect(conn.ID)

	transport.conn.SetReadLimit(maxMessageSize)
	_ = transport.conn.SetReadDeadline(time.Now().Add(pongWait))
	transport.conn.SetPongHandler(func(string) error {
		return transport.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := transport.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("websocket read error",
					zap.String("connection_id", conn.ID),
					zap.Error(err),
				)
			}
			return
		}
		conn.Touch()

		var event clientEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			b.sendError(transport, "malformed event payload")
			continue
		}

		switch event.Event {
		case "subscribe":
			resolved, err := b.Subscribe(conn.ID, event.DeviceID, event.SensorTypes)
			if err != nil {
				b.sendError(transport, err.Error())
				continue
			}
			b.sendEvent(transport, "subscribed", map[string]interface{}{
				"deviceId":    event.DeviceID,
				"sensorTypes": resolved,
			})
		case "publish_control":
			cmd, controlTopic, err := b.PublishControl(event.DeviceID, event.ControlType, event.Value, event.Command)
			if err != nil {
				// A control publish failure is surfaced to the requesting
				// client only.
				b.sendError(transport, err.Error())
				continue
			}
			b.sendEvent(transport, "control_published", map[string]interface{}{
				"topic":   controlTopic,
				"payload": cmd,
			})
		default:
			b.sendError(transport, fmt.Sprintf("unknown event %q", event.Event))
		}
	}
}

// writePump pumps frames from the send channel to the socket with
// keepalive pings.
func (b *Bridge) writePump(transport *wsTransport) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = transport.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-transport.send:
			_ = transport.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The bridge closed the connection.
				_ = transport.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := transport.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = transport.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := transport.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) sendEvent(transport *wsTransport, event string, payload interface{}) {
	frame, err := json.Marshal(serverEvent{Event: event, Payload: payload})
	if err != nil {
		return
	}
	_ = transport.Send(frame)
}

func (b *Bridge) sendError(transport *wsTransport, message string) {
	b.sendEvent(transport, "error", map[string]string{"message": message})
}
