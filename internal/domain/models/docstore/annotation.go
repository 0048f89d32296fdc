package docstore

import "time"

// TagConstant is the category a tag belongs to.
type TagConstant string

const (
	TagTopic      TagConstant = "TOPIC"
	TagTechnology TagConstant = "TECHNOLOGY"
	TagEntity     TagConstant = "ENTITY"
	TagKeyword    TagConstant = "KEYWORD"
)

// ParseTagConstant maps free-form model output onto a category, defaulting to KEYWORD.
func ParseTagConstant(s string) TagConstant {
	switch TagConstant(s) {
	case TagTopic, TagTechnology, TagEntity, TagKeyword:
		return TagConstant(s)
	}
	return TagKeyword
}

// Tag is unique on (name, tag_constant).
type Tag struct {
	ID          int64       `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	TagConstant TagConstant `json:"tag_constant" db:"tag_constant"`
}

// TagMap links a tag to one revision of a document.
type TagMap struct {
	DocumentID int64 `db:"document_id"`
	RevisionID int64 `db:"document_revision_id"`
	TagID      int64 `db:"tag_id"`
}

// Summary is keyed by (document_id, document_revision_id).
type Summary struct {
	ID         int64     `json:"id" db:"id"`
	DocumentID int64     `json:"document_id" db:"document_id"`
	RevisionID int64     `json:"document_revision_id" db:"document_revision_id"`
	Summary    string    `json:"summary" db:"summary"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Embedding is keyed by (document_id, document_revision_id) and only ever upserted.
type Embedding struct {
	ID         int64     `json:"id" db:"id"`
	DocumentID int64     `json:"document_id" db:"document_id"`
	RevisionID int64     `json:"document_revision_id" db:"document_revision_id"`
	Model      string    `json:"model" db:"model"`
	Vector     []float32 `json:"-" db:"embedding"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
