package bridge

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const streamKeepalive = 30 * time.Second

// streamTransport adapts a server-sent-events response to the Transport
// interface. The handler goroutine drains the channel and writes frames.
type streamTransport struct {
	send   chan []byte
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newStreamTransport() *streamTransport {
	return &streamTransport{
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (t *streamTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("stream closed")
	}
	select {
	case t.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// HandleEventStream serves the one-way text/event-stream transport. Stream
// clients receive every fan-out envelope, unfiltered.
func (b *Bridge) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	transport := newStreamTransport()
	conn := b.Connect(TransportEventStream, transport)
	defer b.Disconnect(conn.ID)

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-transport.done:
			return
		case frame := <-transport.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				b.logger.Debug("event stream write failed",
					zap.String("connection_id", conn.ID),
					zap.Error(err),
				)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
