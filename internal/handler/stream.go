package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"quill/internal/domain/models/pipeline"
	docstoreSvc "quill/internal/domain/services/docstore"
	"quill/internal/handler/sse"
	"quill/internal/httputil"
	"quill/internal/service/broadcast"
)

// StatusStreamHandler serves the per-document aiStatus event stream
type StatusStreamHandler struct {
	lifecycle docstoreSvc.LifecycleService
	registry  *broadcast.Registry
	logger    *slog.Logger
}

// NewStatusStreamHandler creates a new status stream handler
func NewStatusStreamHandler(lifecycle docstoreSvc.LifecycleService, registry *broadcast.Registry, logger *slog.Logger) *StatusStreamHandler {
	return &StatusStreamHandler{
		lifecycle: lifecycle,
		registry:  registry,
		logger:    logger,
	}
}

// StreamAIStatus streams ai-status-update events until the status is terminal
// or the client goes away. The first event carries the current status.
// GET /api/documents/{id}/ai-status/stream
func (h *StatusStreamHandler) StreamAIStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}
	userID := httputil.GetUserID(r)

	// Subscribe before reading the status so no transition is missed in between.
	conn := h.registry.Subscribe(id)
	defer h.registry.Remove(id, conn.ID)

	status, err := h.lifecycle.GetAIStatus(r.Context(), userID, id)
	if err != nil {
		handleError(w, err)
		return
	}

	writer, err := sse.NewEventWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	initial, err := json.Marshal(pipeline.StatusUpdate{DocumentID: id, Status: status})
	if err != nil {
		h.logger.Error("encode status update", "document_id", id, "error", err)
		return
	}
	if err := writer.WriteEvent(broadcast.EventStatusUpdate, initial); err != nil {
		return
	}
	if status.IsTerminal() {
		return
	}

	h.logger.Debug("status stream opened", "document_id", id, "connection_id", conn.ID, "user_id", userID)

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("status stream client disconnected", "document_id", id, "connection_id", conn.ID)
			return

		case ev := <-conn.Events():
			if err := writer.WriteEvent(ev.Name, ev.Data); err != nil {
				h.logger.Debug("status stream write failed", "document_id", id, "error", err)
				return
			}

		case <-conn.Done():
			// Server closed the stream; flush what is already queued.
			for {
				select {
				case ev := <-conn.Events():
					if err := writer.WriteEvent(ev.Name, ev.Data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
