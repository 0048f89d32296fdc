package docstore

import (
	"context"

	"quill/internal/domain/models/docstore"
)

// DocumentRepository defines data access operations for documents
type DocumentRepository interface {
	// Create inserts a document and fills in its ID and timestamps
	Create(ctx context.Context, doc *docstore.Document) error

	// GetByID retrieves a document in any status, including DELETED.
	// CurrentRevisionID is populated from the revision table. Inside a
	// transaction the document row stays locked until the transaction ends,
	// so a status or revision check made on the result holds at commit.
	GetByID(ctx context.Context, id int64) (*docstore.Document, error)

	// Update persists the mutable fields of a document
	Update(ctx context.Context, doc *docstore.Document) error

	// ListRoots lists non-deleted documents without a parent
	ListRoots(ctx context.Context) ([]docstore.Document, error)

	// ListChildren lists non-deleted direct children of parentID
	ListChildren(ctx context.Context, parentID int64) ([]docstore.Document, error)

	// ListDeleted lists DELETED documents, most recently deleted first
	ListDeleted(ctx context.Context) ([]docstore.Document, error)

	// SetAIStatus unconditionally sets the ai_status column
	SetAIStatus(ctx context.Context, id int64, status docstore.AIStatus) error

	// CompareAndSetAIStatus moves ai_status from one value to another.
	// Returns false without error when the current value is not from.
	CompareAndSetAIStatus(ctx context.Context, id int64, from, to docstore.AIStatus) (bool, error)
}

// RevisionRepository defines data access operations for document revisions
type RevisionRepository interface {
	// Create appends a revision and fills in its ID
	Create(ctx context.Context, rev *docstore.Revision) error

	// ListByDocument returns revisions newest first with the total count
	ListByDocument(ctx context.Context, documentID int64, limit, offset int) ([]docstore.Revision, int, error)
}
