package pipeline

import (
	"context"

	"quill/internal/domain/models/docstore"
)

// SummaryGenerator produces a short summary of a document revision.
type SummaryGenerator interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// ExtractedTag is a tag proposed by a TagExtractor.
type ExtractedTag struct {
	Name        string
	TagConstant docstore.TagConstant
}

// TagExtractor proposes categorized tags from a title and summary.
type TagExtractor interface {
	ExtractTags(ctx context.Context, title, summary string) ([]ExtractedTag, error)
}

// EmbeddingGenerator turns text into a dense vector.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// StatusNotifier is told about every aiStatus change.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, documentID int64, status docstore.AIStatus)
}
