package pipeline

import (
	"strconv"

	"quill/internal/domain/models/docstore"
)

// Topics. Every message is keyed by the decimal document ID.
const (
	TopicDocumentReady = "event.document"
	TopicTagging       = "queue.ai.tagging"
	TopicEmbedding     = "queue.ai.embedding"
	TopicFailed        = "event.ai.failed"
)

// AgentType names the stage that produced a failure.
type AgentType string

const (
	AgentSummarizer AgentType = "SUMMARIZER"
	AgentTagger     AgentType = "TAGGER"
	AgentEmbedder   AgentType = "EMBEDDER"
)

// Key returns the ordering key for a document.
func Key(documentID int64) string {
	return strconv.FormatInt(documentID, 10)
}

// DocumentReady is emitted by the lifecycle manager on publish and re-analysis.
type DocumentReady struct {
	DocumentID         int64   `json:"documentId"`
	DocumentRevisionID int64   `json:"documentRevisionId"`
	Title              string  `json:"title"`
	Content            *string `json:"content"`
}

// TaggingRequest is emitted by the summarizer.
type TaggingRequest struct {
	DocumentID         int64  `json:"documentId"`
	DocumentRevisionID int64  `json:"documentRevisionId"`
	Title              string `json:"title"`
	Summary            string `json:"summary"`
}

// TagPayload is a tag as carried on the wire.
type TagPayload struct {
	Name        string               `json:"name"`
	TagConstant docstore.TagConstant `json:"tagConstant"`
}

// EmbeddingRequest is emitted by the tagger.
type EmbeddingRequest struct {
	DocumentID         int64        `json:"documentId"`
	DocumentRevisionID int64        `json:"documentRevisionId"`
	Tags               []TagPayload `json:"tags"`
}

// Failure is emitted by any stage that could not complete.
type Failure struct {
	DocumentID         int64     `json:"documentId"`
	DocumentRevisionID int64     `json:"documentRevisionId"`
	AgentType          AgentType `json:"agentType"`
	Reason             string    `json:"reason"`
}

// StatusUpdate is pushed to subscribers of a document.
type StatusUpdate struct {
	DocumentID int64             `json:"documentId"`
	Status     docstore.AIStatus `json:"status"`
}
