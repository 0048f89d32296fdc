package handler

import "net/http"

// RegisterRoutes mounts every endpoint on mux
func RegisterRoutes(mux *http.ServeMux, docs *DocumentHandler, stream *StatusStreamHandler) {
	mux.HandleFunc("GET /health", docs.HealthCheck)

	mux.HandleFunc("POST /api/documents", docs.CreateDocument)
	mux.HandleFunc("GET /api/documents", docs.ListDocuments)
	mux.HandleFunc("GET /api/documents/trash", docs.ListTrash) // more specific than {id}
	mux.HandleFunc("GET /api/documents/{id}", docs.GetDocument)
	mux.HandleFunc("PATCH /api/documents/{id}", docs.UpdateDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", docs.DeleteDocument)

	mux.HandleFunc("POST /api/documents/{id}/publish", docs.PublishDocument)
	mux.HandleFunc("POST /api/documents/{id}/restore", docs.RestoreDocument)
	mux.HandleFunc("POST /api/documents/{id}/reanalyze", docs.ReanalyzeDocument)

	mux.HandleFunc("GET /api/documents/{id}/revisions", docs.ListRevisions)
	mux.HandleFunc("GET /api/documents/{id}/tags", docs.ListTags)
	mux.HandleFunc("GET /api/documents/{id}/ai-status", docs.GetAIStatus)
	mux.HandleFunc("GET /api/documents/{id}/ai-status/stream", stream.StreamAIStatus) // SSE
}
