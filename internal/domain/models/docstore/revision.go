package docstore

import "time"

// Revision is an immutable snapshot appended on every lifecycle write.
// Revision IDs are globally increasing, so a larger ID is always newer.
type Revision struct {
	ID         int64          `json:"id" db:"id"`
	DocumentID int64          `json:"document_id" db:"document_id"`
	Title      string         `json:"title" db:"title"`
	Content    *string        `json:"content" db:"content"`
	Status     DocumentStatus `json:"status" db:"status"`
	ParentID   *int64         `json:"parent_id" db:"parent_id"`
	CreatedBy  string         `json:"created_by" db:"created_by"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// NewRevision snapshots the current state of doc.
func NewRevision(doc *Document, userID string, at time.Time) *Revision {
	return &Revision{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		Status:     doc.Status,
		ParentID:   doc.ParentID,
		CreatedBy:  userID,
		CreatedAt:  at,
	}
}

// RevisionPage is one page of a document's history, newest first.
type RevisionPage struct {
	Revisions []Revision `json:"revisions"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
	Total     int        `json:"total"`
}
