package bridge

import (
	"sync"
	"time"
)

// TransportKind distinguishes the two live-client transports.
type TransportKind string

const (
	// TransportWebSocket is the bidirectional persistent-socket transport.
	TransportWebSocket TransportKind = "websocket"
	// TransportEventStream is the one-way server-sent-events transport.
	TransportEventStream TransportKind = "sse"
)

// RoomKey is the routing key matching fan-out messages to subscribers.
type RoomKey struct {
	DeviceID   string
	SensorType string
}

// Transport is the underlying client connection. Owned externally;
// the registry references it, it never copies it.
type Transport interface {
	Send(payload []byte) error
	Close() error
}

// Connection is the live state of one client. Mutations on the room set
// and the activity clock are guarded; the registry hands out the pointer,
// never a copy.
type Connection struct {
	ID          string
	Kind        TransportKind
	ConnectedAt time.Time
	transport   Transport

	mu           sync.Mutex
	lastActivity time.Time
	rooms        map[RoomKey]struct{}
}

func newConnection(id string, kind TransportKind, transport Transport, now time.Time) *Connection {
	return &Connection{
		ID:           id,
		Kind:         kind,
		ConnectedAt:  now,
		transport:    transport,
		lastActivity: now,
		rooms:        make(map[RoomKey]struct{}),
	}
}

// Touch refreshes the activity clock.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the activity clock.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Join adds the connection to a room. Re-entrant.
func (c *Connection) Join(room RoomKey) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

// Subscribed reports whether the connection joined the room.
func (c *Connection) Subscribed(room RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns a copy of the joined room set.
func (c *Connection) Rooms() []RoomKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]RoomKey, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Registry is the shared connection table. It is touched from the
// broker-consumption path, the reaper, and client request handlers, so
// every operation is safe under concurrent access and iteration works on
// snapshots.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a connection.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()
}

// Remove deletes a connection and returns it, or nil if absent.
func (r *Registry) Remove(id string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	return conn
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Snapshot returns the current connections. Fan-out iterates the snapshot
// so concurrent removal cannot invalidate the walk.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
