// Package search keeps an external full-text index in step with documents.
package search

import (
	"context"
	"strconv"
	"time"

	"quill/internal/domain/models/docstore"
)

// DocumentRecord is the indexed shape of a document
type DocumentRecord struct {
	ID         string   `json:"id"`
	DocumentID int64    `json:"documentId"`
	ParentID   *int64   `json:"parentId,omitempty"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Status     string   `json:"status"`
	AIStatus   string   `json:"aiStatus"`
	RevisionID int64    `json:"revisionId"`
	Summary    string   `json:"summary,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	UpdatedAt  int64    `json:"updatedAt"`
}

// NewDocumentRecord builds a record from a document and optional annotations
func NewDocumentRecord(doc *docstore.Document, summary string, tags []docstore.Tag) DocumentRecord {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return DocumentRecord{
		ID:         strconv.FormatInt(doc.ID, 10),
		DocumentID: doc.ID,
		ParentID:   doc.ParentID,
		Title:      doc.Title,
		Content:    doc.ContentText(),
		Status:     string(doc.Status),
		AIStatus:   string(doc.AIStatus),
		RevisionID: doc.CurrentRevisionID,
		Summary:    summary,
		Tags:       names,
		UpdatedAt:  doc.UpdatedAt.Truncate(time.Second).Unix(),
	}
}

// Indexer writes to the search index. Callers treat failures as non-fatal.
type Indexer interface {
	IndexDocument(ctx context.Context, rec DocumentRecord) error
	DeleteDocuments(ctx context.Context, ids []int64) error
}

// Noop discards every call; used when no search backend is configured
type Noop struct{}

func (Noop) IndexDocument(context.Context, DocumentRecord) error { return nil }
func (Noop) DeleteDocuments(context.Context, []int64) error      { return nil }

var _ Indexer = Noop{}
