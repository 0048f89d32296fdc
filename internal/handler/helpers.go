package handler

import (
	"context"
	"errors"
	"net/http"

	"quill/internal/domain"
	"quill/internal/domain/models/docstore"
	"quill/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var stateErr *domain.InvalidStateError

	switch {
	case errors.As(err, &stateErr):
		httputil.RespondErrorWithExtras(w, http.StatusConflict, stateErr.Error(), map[string]any{
			"current_status":  stateErr.Current,
			"expected_status": stateErr.Expected,
		})
	case errors.Is(err, domain.ErrInvalidState):
		httputil.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, err.Error())
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

type transitionFn func(ctx context.Context, userID string, id int64) (*docstore.Document, error)

// transition runs a single-document state change and returns the result
func (h *DocumentHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFn) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		handleError(w, err)
		return
	}

	doc, err := fn(r.Context(), httputil.GetUserID(r), id)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc)
}
