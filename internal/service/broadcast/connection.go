package broadcast

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Event names on the status stream
const (
	EventStatusUpdate = "ai-status-update"
	EventHeartbeat    = "heartbeat"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errConnectionFull   = errors.New("connection buffer full")
)

// Event is one frame queued for a subscriber
type Event struct {
	Name string
	Data []byte
}

// Connection is one subscriber of one document's status stream.
// Events are queued without blocking; Done closes when the server ends the
// stream, after which any queued events should still be drained.
type Connection struct {
	ID         string
	DocumentID int64

	mu     sync.Mutex
	events chan Event
	done   chan struct{}
	closed bool
}

func newConnection(documentID int64, buffer int) *Connection {
	return &Connection{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		events:     make(chan Event, buffer),
		done:       make(chan struct{}),
	}
}

// Events returns the queue of pending frames
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done closes once the server has finished with this connection
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return errConnectionFull
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
