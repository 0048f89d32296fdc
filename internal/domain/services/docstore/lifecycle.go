package docstore

import (
	"context"

	"quill/internal/domain/models/docstore"
)

// LifecycleService enforces the document state machine.
// Every mutation commits the document together with a new revision.
type LifecycleService interface {
	// Create creates a DRAFT document with its initial revision
	Create(ctx context.Context, userID string, req *CreateDocumentRequest) (*docstore.Document, error)

	// Publish moves a DRAFT to ACTIVE and starts the annotation pipeline
	Publish(ctx context.Context, userID string, id int64) (*docstore.Document, error)

	// Update edits an ACTIVE or DRAFT document
	Update(ctx context.Context, userID string, id int64, req *UpdateDocumentRequest) (*docstore.Document, error)

	// Delete soft-deletes a document and every non-deleted descendant.
	// Returns the affected documents; empty when the target was already deleted.
	Delete(ctx context.Context, userID string, id int64) ([]docstore.Document, error)

	// Restore brings a DELETED document back as ACTIVE
	Restore(ctx context.Context, userID string, id int64) (*docstore.Document, error)

	// Reanalyze re-emits the pipeline trigger for the current revision of an ACTIVE document
	Reanalyze(ctx context.Context, userID string, id int64) (*docstore.Document, error)

	// Get returns a non-deleted document visible to userID
	Get(ctx context.Context, userID string, id int64) (*docstore.Document, error)

	// List returns root documents, or the children of parentID when set
	List(ctx context.Context, userID string, parentID *int64) ([]docstore.Document, error)

	// ListTrash returns DELETED documents
	ListTrash(ctx context.Context, userID string) ([]docstore.Document, error)

	// ListRevisions pages through history, newest first
	ListRevisions(ctx context.Context, userID string, id int64, page, limit int) (*docstore.RevisionPage, error)

	// ListTags returns the tags of the current revision
	ListTags(ctx context.Context, userID string, id int64) ([]docstore.Tag, error)

	// GetAIStatus returns the current annotation status
	GetAIStatus(ctx context.Context, userID string, id int64) (docstore.AIStatus, error)
}

// CreateDocumentRequest represents a document creation request
type CreateDocumentRequest struct {
	Title    string  `json:"title"`
	Content  *string `json:"content,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"` // NULL = root
}

// UpdateDocumentRequest represents a document update request.
// Nil fields are left unchanged.
type UpdateDocumentRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Validator checks request shape before any state is touched.
type Validator interface {
	ValidateCreate(req *CreateDocumentRequest) error
	ValidateUpdate(req *UpdateDocumentRequest) error
}
