package docstore

import (
	"time"
)

// DocumentStatus is the publication state of a document.
type DocumentStatus string

const (
	StatusDraft   DocumentStatus = "DRAFT"
	StatusActive  DocumentStatus = "ACTIVE"
	StatusDeleted DocumentStatus = "DELETED"
)

// AIStatus tracks the annotation pipeline for the current revision.
// Transitions: PENDING -> PROCESSING -> COMPLETED | FAILED. Edits reset to PENDING.
type AIStatus string

const (
	AIStatusPending    AIStatus = "PENDING"
	AIStatusProcessing AIStatus = "PROCESSING"
	AIStatusCompleted  AIStatus = "COMPLETED"
	AIStatusFailed     AIStatus = "FAILED"
)

// IsTerminal reports whether no further pipeline updates are expected.
func (s AIStatus) IsTerminal() bool {
	return s == AIStatusCompleted || s == AIStatusFailed
}

// Valid reports whether s is a known status.
func (s AIStatus) Valid() bool {
	switch s {
	case AIStatusPending, AIStatusProcessing, AIStatusCompleted, AIStatusFailed:
		return true
	}
	return false
}

// Document is one node of the document tree. Every lifecycle write appends a
// Revision; the pipeline annotates only the newest one.
type Document struct {
	ID                int64          `json:"id" db:"id"`
	ParentID          *int64         `json:"parent_id" db:"parent_id"` // NULL = root
	Title             string         `json:"title" db:"title"`
	Content           *string        `json:"content" db:"content"`
	Status            DocumentStatus `json:"status" db:"status"`
	AIStatus          AIStatus       `json:"ai_status" db:"ai_status"`
	CurrentRevisionID int64          `json:"current_revision_id" db:"-"` // MAX(revision id), not stored
	CreatedBy         string         `json:"created_by" db:"created_by"`
	UpdatedBy         string         `json:"updated_by" db:"updated_by"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// VisibleTo reports whether userID may read the document.
// Drafts are private to their creator.
func (d *Document) VisibleTo(userID string) bool {
	return d.Status != StatusDraft || d.CreatedBy == userID
}

// ContentText returns the content or an empty string when unset.
func (d *Document) ContentText() string {
	if d.Content == nil {
		return ""
	}
	return *d.Content
}
