// Package pipeline runs the three annotation stages and the failure handler.
// Each stage re-reads the document and drops messages for revisions that are
// no longer current, so redelivery and out-of-date work are harmless.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	"quill/internal/domain/repositories"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	pipelineSvc "quill/internal/domain/services/pipeline"
	"quill/internal/messaging"
	"quill/internal/search"
)

// Repositories groups the storage the stages write to.
type Repositories struct {
	Documents  docstoreRepo.DocumentRepository
	Tags       docstoreRepo.TagRepository
	Summaries  docstoreRepo.SummaryRepository
	Embeddings docstoreRepo.EmbeddingRepository
	TxManager  repositories.TransactionManager
}

// Models groups the model-backed ports.
type Models struct {
	Summarizer pipelineSvc.SummaryGenerator
	Tagger     pipelineSvc.TagExtractor
	Embedder   pipelineSvc.EmbeddingGenerator
}

// Service implements the stage handlers.
type Service struct {
	repos     Repositories
	models    Models
	publisher messaging.Publisher
	notifier  pipelineSvc.StatusNotifier
	indexer   search.Indexer
	logger    *slog.Logger
}

// NewService creates the pipeline stages
func NewService(
	repos Repositories,
	models Models,
	publisher messaging.Publisher,
	notifier pipelineSvc.StatusNotifier,
	indexer search.Indexer,
	logger *slog.Logger,
) *Service {
	if indexer == nil {
		indexer = search.Noop{}
	}
	return &Service{
		repos:     repos,
		models:    models,
		publisher: publisher,
		notifier:  notifier,
		indexer:   indexer,
		logger:    logger,
	}
}

// loadCurrent returns the document when it is ACTIVE and revisionID is its
// current revision. ok is false for anything the stage should skip.
func (s *Service) loadCurrent(ctx context.Context, documentID, revisionID int64) (doc *models.Document, ok bool, err error) {
	doc, err = s.repos.Documents.GetByID(ctx, documentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if doc.Status != models.StatusActive || revisionID < doc.CurrentRevisionID {
		return doc, false, nil
	}
	return doc, true, nil
}

func (s *Service) skip(stage string, documentID, revisionID int64, doc *models.Document) {
	attrs := []any{"stage", stage, "document_id", documentID, "revision_id", revisionID}
	if doc != nil {
		attrs = append(attrs,
			"status", doc.Status,
			"ai_status", doc.AIStatus,
			"current_revision_id", doc.CurrentRevisionID,
		)
	}
	s.logger.Debug("skipping stale pipeline message", attrs...)
}

func decode[T any](msg messaging.Message, dst *T) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("decode %s message %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}
