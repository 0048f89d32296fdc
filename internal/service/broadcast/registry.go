// Package broadcast pushes aiStatus changes to open status streams.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"quill/internal/domain/models/docstore"
	"quill/internal/domain/models/pipeline"
)

var heartbeatData = []byte("{}")

// connectionSet holds the connections of one document. A set that became
// empty is marked dead and dropped from the registry; subscribers that raced
// with the drop retry with a fresh set.
type connectionSet struct {
	mu    sync.Mutex
	conns map[string]*Connection
	dead  bool
}

// Registry tracks status stream subscribers per document. Documents never
// share a lock, so broadcasts for unrelated documents do not contend.
type Registry struct {
	docs   sync.Map // int64 -> *connectionSet
	buffer int
	logger *slog.Logger
}

// NewRegistry creates a registry whose connections queue up to buffer events
func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer < 1 {
		buffer = 1
	}
	return &Registry{buffer: buffer, logger: logger}
}

// Subscribe registers a new connection for documentID
func (r *Registry) Subscribe(documentID int64) *Connection {
	conn := newConnection(documentID, r.buffer)

	for {
		v, _ := r.docs.LoadOrStore(documentID, &connectionSet{conns: make(map[string]*Connection)})
		set := v.(*connectionSet)

		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		set.conns[conn.ID] = conn
		set.mu.Unlock()

		r.logger.Debug("status stream subscribed", "document_id", documentID, "connection_id", conn.ID)
		return conn
	}
}

// Remove closes and deregisters a connection. Unknown IDs are ignored.
func (r *Registry) Remove(documentID int64, connectionID string) {
	v, ok := r.docs.Load(documentID)
	if !ok {
		return
	}
	set := v.(*connectionSet)

	set.mu.Lock()
	defer set.mu.Unlock()
	if conn, ok := set.conns[connectionID]; ok {
		r.removeLocked(documentID, set, conn)
	}
}

// removeLocked must be called with set.mu held
func (r *Registry) removeLocked(documentID int64, set *connectionSet, conn *Connection) {
	conn.close()
	delete(set.conns, conn.ID)
	if len(set.conns) == 0 && !set.dead {
		set.dead = true
		r.docs.CompareAndDelete(documentID, set)
	}
}

// Broadcast sends a status update to every subscriber of documentID.
// Terminal statuses end each stream right after delivery.
func (r *Registry) Broadcast(documentID int64, status docstore.AIStatus) {
	v, ok := r.docs.Load(documentID)
	if !ok {
		return
	}
	set := v.(*connectionSet)

	data, err := json.Marshal(pipeline.StatusUpdate{DocumentID: documentID, Status: status})
	if err != nil {
		r.logger.Error("encode status update", "document_id", documentID, "error", err)
		return
	}
	ev := Event{Name: EventStatusUpdate, Data: data}

	set.mu.Lock()
	defer set.mu.Unlock()

	for _, conn := range set.conns {
		err := conn.send(ev)
		if err != nil {
			r.logger.Debug("status send failed, dropping connection",
				"document_id", documentID,
				"connection_id", conn.ID,
				"error", err,
			)
		}
		if err != nil || status.IsTerminal() {
			r.removeLocked(documentID, set, conn)
		}
	}
}

// NotifyStatus implements pipeline.StatusNotifier for single-instance deployments
func (r *Registry) NotifyStatus(ctx context.Context, documentID int64, status docstore.AIStatus) {
	r.Broadcast(documentID, status)
}

// Heartbeat sends a heartbeat event to every open connection and drops
// the ones that cannot take it.
func (r *Registry) Heartbeat() {
	ev := Event{Name: EventHeartbeat, Data: heartbeatData}

	r.docs.Range(func(key, value any) bool {
		documentID := key.(int64)
		set := value.(*connectionSet)

		set.mu.Lock()
		for _, conn := range set.conns {
			if err := conn.send(ev); err != nil {
				r.logger.Debug("heartbeat failed, dropping connection",
					"document_id", documentID,
					"connection_id", conn.ID,
					"error", err,
				)
				r.removeLocked(documentID, set, conn)
			}
		}
		set.mu.Unlock()
		return true
	})
}

// WriteKeepAlive lets the registry be driven by sse.TickerKeepAlive
func (r *Registry) WriteKeepAlive() error {
	r.Heartbeat()
	return nil
}

// Count returns the number of open connections for documentID
func (r *Registry) Count(documentID int64) int {
	v, ok := r.docs.Load(documentID)
	if !ok {
		return 0
	}
	set := v.(*connectionSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}
