package bridge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Send([]byte) error { return nil }
func (nopTransport) Close() error      { return nil }

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	conn := newConnection("c1", TransportWebSocket, nopTransport{}, time.Now())

	r.Add(conn)
	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, r.Count())

	removed := r.Remove("c1")
	assert.Same(t, conn, removed)
	assert.Equal(t, 0, r.Count())
	assert.Nil(t, r.Remove("c1"), "second remove is a no-op")
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.Add(newConnection(fmt.Sprintf("c%d", i), TransportWebSocket, nopTransport{}, time.Now()))
	}

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 5)

	// Removal during iteration of the snapshot must not invalidate it.
	for _, conn := range snapshot {
		r.Remove(conn.ID)
	}
	assert.Equal(t, 0, r.Count())
	assert.Len(t, snapshot, 5)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			conn := newConnection(id, TransportWebSocket, nopTransport{}, time.Now())
			r.Add(conn)
			conn.Join(RoomKey{DeviceID: "000001", SensorType: "heartrate"})
			conn.Touch()
			r.Snapshot()
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Count())
}

func TestConnection_Rooms(t *testing.T) {
	conn := newConnection("c1", TransportWebSocket, nopTransport{}, time.Now())
	room := RoomKey{DeviceID: "000001", SensorType: "cadence"}

	assert.False(t, conn.Subscribed(room))
	conn.Join(room)
	conn.Join(room) // re-entrant
	assert.True(t, conn.Subscribed(room))
	assert.Len(t, conn.Rooms(), 1)
}

func TestConnection_Touch(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	conn := newConnection("c1", TransportEventStream, nopTransport{}, past)

	assert.Equal(t, past, conn.LastActivity())
	conn.Touch()
	assert.True(t, conn.LastActivity().After(past))
}
