package docstore

import (
	"context"

	"quill/internal/domain/models/docstore"
)

// TagRepository defines data access operations for tags and their revision mappings
type TagRepository interface {
	// GetOrCreate returns the tag with this (name, constant), creating it if needed
	GetOrCreate(ctx context.Context, name string, constant docstore.TagConstant) (*docstore.Tag, error)

	// ReplaceForRevision swaps the tag set of one revision for tagIDs
	ReplaceForRevision(ctx context.Context, documentID, revisionID int64, tagIDs []int64) error

	// ListByRevision lists the tags mapped to one revision
	ListByRevision(ctx context.Context, documentID, revisionID int64) ([]docstore.Tag, error)
}

// SummaryRepository defines data access operations for revision summaries
type SummaryRepository interface {
	// Upsert writes the summary for (document, revision)
	Upsert(ctx context.Context, summary *docstore.Summary) error

	// GetByRevision returns domain.ErrNotFound when no summary exists yet
	GetByRevision(ctx context.Context, documentID, revisionID int64) (*docstore.Summary, error)
}

// EmbeddingRepository defines data access operations for revision embeddings
type EmbeddingRepository interface {
	// Upsert writes the embedding for (document, revision); redelivery overwrites in place
	Upsert(ctx context.Context, embedding *docstore.Embedding) error

	// GetByRevision returns domain.ErrNotFound when no embedding exists yet
	GetByRevision(ctx context.Context, documentID, revisionID int64) (*docstore.Embedding, error)
}
