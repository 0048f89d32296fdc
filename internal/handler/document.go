package handler

import (
	"log/slog"
	"net/http"

	"quill/internal/config"
	docstoreSvc "quill/internal/domain/services/docstore"
	"quill/internal/httputil"
)

// DocumentHandler handles document lifecycle HTTP requests
type DocumentHandler struct {
	lifecycle docstoreSvc.LifecycleService
	logger    *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(lifecycle docstoreSvc.LifecycleService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// CreateDocument creates a DRAFT document
// POST /api/documents
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req docstoreSvc.CreateDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	doc, err := h.lifecycle.Create(r.Context(), httputil.GetUserID(r), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, doc)
}

// ListDocuments lists root documents, or the children of ?parentId=
// GET /api/documents
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	parentID, err := httputil.QueryInt64(r, "parentId")
	if err != nil {
		handleError(w, err)
		return
	}

	docs, err := h.lifecycle.List(r.Context(), httputil.GetUserID(r), parentID)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, docs)
}

// ListTrash lists deleted documents
// GET /api/documents/trash
func (h *DocumentHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	docs, err := h.lifecycle.ListTrash(r.Context(), httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, docs)
}

// GetDocument returns a single document
// GET /api/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	doc, err := h.lifecycle.Get(r.Context(), httputil.GetUserID(r), id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// UpdateDocument edits the title and/or content
// PATCH /api/documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	var req docstoreSvc.UpdateDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		handleError(w, err)
		return
	}

	doc, err := h.lifecycle.Update(r.Context(), httputil.GetUserID(r), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// DeleteDocument soft-deletes a document and its descendants
// DELETE /api/documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	affected, err := h.lifecycle.Delete(r.Context(), httputil.GetUserID(r), id)
	if err != nil {
		handleError(w, err)
		return
	}

	ids := make([]int64, 0, len(affected))
	for _, doc := range affected {
		ids = append(ids, doc.ID)
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"deleted": ids})
}

// PublishDocument moves a DRAFT to ACTIVE
// POST /api/documents/{id}/publish
func (h *DocumentHandler) PublishDocument(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Publish)
}

// RestoreDocument brings a DELETED document back
// POST /api/documents/{id}/restore
func (h *DocumentHandler) RestoreDocument(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Restore)
}

// ReanalyzeDocument re-runs the annotation pipeline
// POST /api/documents/{id}/reanalyze
func (h *DocumentHandler) ReanalyzeDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	doc, err := h.lifecycle.Reanalyze(r.Context(), httputil.GetUserID(r), id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, doc)
}

// ListRevisions pages through a document's history
// GET /api/documents/{id}/revisions?page=&limit=
func (h *DocumentHandler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}
	page, err := httputil.QueryInt(r, "page", 1)
	if err != nil {
		handleError(w, err)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", config.DefaultRevisionPageSize)
	if err != nil {
		handleError(w, err)
		return
	}

	result, err := h.lifecycle.ListRevisions(r.Context(), httputil.GetUserID(r), id, page, limit)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// ListTags returns the tags of the current revision
// GET /api/documents/{id}/tags
func (h *DocumentHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	tags, err := h.lifecycle.ListTags(r.Context(), httputil.GetUserID(r), id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, tags)
}

// GetAIStatus returns the annotation status
// GET /api/documents/{id}/ai-status
func (h *DocumentHandler) GetAIStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	status, err := h.lifecycle.GetAIStatus(r.Context(), httputil.GetUserID(r), id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"documentId": id, "status": status})
}

// HealthCheck returns 200 OK
// GET /health
func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
