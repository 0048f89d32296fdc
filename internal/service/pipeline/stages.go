package pipeline

import (
	"context"
	"errors"
	"fmt"

	"quill/internal/config"
	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	pipelineModels "quill/internal/domain/models/pipeline"
	"quill/internal/messaging"
	"quill/internal/search"
	"quill/internal/service/ai"
)

// HandleDocumentReady is the summarizer stage.
func (s *Service) HandleDocumentReady(ctx context.Context, msg messaging.Message) error {
	var ev pipelineModels.DocumentReady
	if err := decode(msg, &ev); err != nil {
		return s.reject(ctx, msg, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentSummarizer, err)
	}

	doc, ok, err := s.loadCurrent(ctx, ev.DocumentID, ev.DocumentRevisionID)
	if err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentSummarizer, err)
	}
	if !ok {
		s.skip("summarizer", ev.DocumentID, ev.DocumentRevisionID, doc)
		return nil
	}

	switch doc.AIStatus {
	case models.AIStatusPending:
		swapped, err := s.repos.Documents.CompareAndSetAIStatus(ctx, doc.ID, models.AIStatusPending, models.AIStatusProcessing)
		if err != nil {
			return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentSummarizer, err)
		}
		if !swapped {
			s.skip("summarizer", ev.DocumentID, ev.DocumentRevisionID, doc)
			return nil
		}
		s.notifier.NotifyStatus(ctx, doc.ID, models.AIStatusProcessing)
	case models.AIStatusProcessing:
		// redelivery after a crash mid-stage
	default:
		s.skip("summarizer", ev.DocumentID, ev.DocumentRevisionID, doc)
		return nil
	}

	content := ""
	if ev.Content != nil {
		content = *ev.Content
	}
	summary, err := s.models.Summarizer.Summarize(ctx, ev.Title, content)
	if err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentSummarizer, err)
	}

	err = s.repos.Summaries.Upsert(ctx, &models.Summary{
		DocumentID: ev.DocumentID,
		RevisionID: ev.DocumentRevisionID,
		Summary:    summary,
	})
	if err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentSummarizer, err)
	}

	next := pipelineModels.TaggingRequest{
		DocumentID:         ev.DocumentID,
		DocumentRevisionID: ev.DocumentRevisionID,
		Title:              ev.Title,
		Summary:            summary,
	}
	if err := messaging.PublishJSON(ctx, s.publisher, pipelineModels.TopicTagging, msg.Key, next); err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentSummarizer, err)
	}

	s.logger.Info("document summarized", "document_id", ev.DocumentID, "revision_id", ev.DocumentRevisionID)
	return nil
}

// HandleTaggingRequest is the tagger stage.
func (s *Service) HandleTaggingRequest(ctx context.Context, msg messaging.Message) error {
	var ev pipelineModels.TaggingRequest
	if err := decode(msg, &ev); err != nil {
		return s.reject(ctx, msg, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentTagger, err)
	}

	doc, ok, err := s.loadCurrent(ctx, ev.DocumentID, ev.DocumentRevisionID)
	if err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentTagger, err)
	}
	if !ok || doc.AIStatus != models.AIStatusProcessing {
		s.skip("tagger", ev.DocumentID, ev.DocumentRevisionID, doc)
		return nil
	}

	extracted, err := s.models.Tagger.ExtractTags(ctx, ev.Title, ev.Summary)
	if err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentTagger, err)
	}
	if len(extracted) > config.MaxTagsPerRevision {
		extracted = extracted[:config.MaxTagsPerRevision]
	}

	payload := make([]pipelineModels.TagPayload, 0, len(extracted))
	err = s.repos.TxManager.ExecTx(ctx, func(txCtx context.Context) error {
		ids := make([]int64, 0, len(extracted))
		for _, et := range extracted {
			tag, err := s.repos.Tags.GetOrCreate(txCtx, et.Name, models.ParseTagConstant(string(et.TagConstant)))
			if err != nil {
				return err
			}
			ids = append(ids, tag.ID)
			payload = append(payload, pipelineModels.TagPayload{Name: tag.Name, TagConstant: tag.TagConstant})
		}
		return s.repos.Tags.ReplaceForRevision(txCtx, ev.DocumentID, ev.DocumentRevisionID, ids)
	})
	if err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentTagger, err)
	}

	next := pipelineModels.EmbeddingRequest{
		DocumentID:         ev.DocumentID,
		DocumentRevisionID: ev.DocumentRevisionID,
		Tags:               payload,
	}
	if err := messaging.PublishJSON(ctx, s.publisher, pipelineModels.TopicEmbedding, msg.Key, next); err != nil {
		return s.fail(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentTagger, err)
	}

	s.logger.Info("document tagged",
		"document_id", ev.DocumentID,
		"revision_id", ev.DocumentRevisionID,
		"tags", len(payload),
	)
	return nil
}

// HandleEmbeddingRequest is the embedder stage. It is the only stage that
// moves a document to COMPLETED.
func (s *Service) HandleEmbeddingRequest(ctx context.Context, msg messaging.Message) error {
	var ev pipelineModels.EmbeddingRequest
	if err := decode(msg, &ev); err != nil {
		if !attributable(ev.DocumentID, ev.DocumentRevisionID) {
			return s.reject(ctx, msg, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
		}
		return s.failNow(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
	}

	doc, ok, err := s.loadCurrent(ctx, ev.DocumentID, ev.DocumentRevisionID)
	if err != nil {
		return s.failNow(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
	}
	if !ok || doc.AIStatus != models.AIStatusProcessing {
		s.skip("embedder", ev.DocumentID, ev.DocumentRevisionID, doc)
		return nil
	}

	summary := ""
	stored, err := s.repos.Summaries.GetByRevision(ctx, ev.DocumentID, ev.DocumentRevisionID)
	switch {
	case err == nil:
		summary = stored.Summary
	case !errors.Is(err, domain.ErrNotFound):
		return s.failNow(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
	}

	names := make([]string, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		names = append(names, t.Name)
	}

	vector, err := s.models.Embedder.Embed(ctx, ai.ComposeEmbeddingText(doc.Title, summary, names))
	if err != nil {
		return s.failNow(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
	}

	err = s.repos.Embeddings.Upsert(ctx, &models.Embedding{
		DocumentID: ev.DocumentID,
		RevisionID: ev.DocumentRevisionID,
		Model:      s.models.Embedder.Model(),
		Vector:     vector,
	})
	if err != nil {
		return s.failNow(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
	}

	// The re-read inside the transaction holds the document row, so a
	// concurrent edit either commits first (and the revision check fails)
	// or waits until COMPLETED is written.
	completed := false
	err = s.repos.TxManager.ExecTx(ctx, func(txCtx context.Context) error {
		_, ok, err := s.loadCurrent(txCtx, ev.DocumentID, ev.DocumentRevisionID)
		if err != nil || !ok {
			return err
		}
		completed, err = s.repos.Documents.CompareAndSetAIStatus(txCtx, ev.DocumentID, models.AIStatusProcessing, models.AIStatusCompleted)
		return err
	})
	if err != nil {
		return s.failNow(ctx, ev.DocumentID, ev.DocumentRevisionID, pipelineModels.AgentEmbedder, err)
	}
	if !completed {
		s.skip("embedder", ev.DocumentID, ev.DocumentRevisionID, doc)
		return nil
	}

	s.notifier.NotifyStatus(ctx, ev.DocumentID, models.AIStatusCompleted)
	s.logger.Info("document annotation completed",
		"document_id", ev.DocumentID,
		"revision_id", ev.DocumentRevisionID,
		"dims", len(vector),
	)

	doc.AIStatus = models.AIStatusCompleted
	tags, err := s.repos.Tags.ListByRevision(ctx, ev.DocumentID, ev.DocumentRevisionID)
	if err != nil {
		s.logger.Warn("failed to load tags for search index", "document_id", ev.DocumentID, "error", err)
	}
	if err := s.indexer.IndexDocument(ctx, search.NewDocumentRecord(doc, summary, tags)); err != nil {
		s.logger.Warn("failed to index document", "document_id", ev.DocumentID, "error", err)
	}
	return nil
}

// HandleFailure marks the revision FAILED. Repeated or stale failures are ignored.
func (s *Service) HandleFailure(ctx context.Context, msg messaging.Message) error {
	var ev pipelineModels.Failure
	if err := decode(msg, &ev); err != nil {
		if !attributable(ev.DocumentID, ev.DocumentRevisionID) {
			s.logger.Error("dropping unreadable failure event", "topic", msg.Topic, "message_id", msg.ID, "error", err)
			return err
		}
		ev.Reason = err.Error()
	}

	changed, err := s.markFailed(ctx, ev.DocumentID, ev.DocumentRevisionID)
	if err != nil {
		return err
	}
	if !changed {
		s.skip("failure", ev.DocumentID, ev.DocumentRevisionID, nil)
		return nil
	}

	s.logger.Warn("annotation stage failed",
		"document_id", ev.DocumentID,
		"revision_id", ev.DocumentRevisionID,
		"agent", ev.AgentType,
		"reason", ev.Reason,
	)
	return nil
}

// markFailed sets FAILED while revisionID is still the current revision of an
// ACTIVE document. It reports whether the status changed, so a redelivered
// failure broadcasts nothing.
func (s *Service) markFailed(ctx context.Context, documentID, revisionID int64) (bool, error) {
	changed := false
	err := s.repos.TxManager.ExecTx(ctx, func(txCtx context.Context) error {
		doc, ok, err := s.loadCurrent(txCtx, documentID, revisionID)
		if err != nil || !ok || doc.AIStatus == models.AIStatusFailed {
			return err
		}
		if err := s.repos.Documents.SetAIStatus(txCtx, documentID, models.AIStatusFailed); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark document %d failed: %w", documentID, err)
	}
	if changed {
		s.notifier.NotifyStatus(ctx, documentID, models.AIStatusFailed)
	}
	return changed, nil
}

// fail publishes a failure event. If that publish fails too the document
// is marked FAILED directly so it does not stay PROCESSING.
func (s *Service) fail(ctx context.Context, documentID, revisionID int64, agent pipelineModels.AgentType, cause error) error {
	ev := pipelineModels.Failure{
		DocumentID:         documentID,
		DocumentRevisionID: revisionID,
		AgentType:          agent,
		Reason:             ai.TruncateRunes(cause.Error(), config.MaxFailureReasonLength),
	}
	err := messaging.PublishJSON(ctx, s.publisher, pipelineModels.TopicFailed, pipelineModels.Key(documentID), ev)
	if err == nil {
		return fmt.Errorf("%s: %w", agent, cause)
	}

	s.logger.Error("failed to publish failure event", "document_id", documentID, "agent", agent, "error", err)
	if _, markErr := s.markFailed(ctx, documentID, revisionID); markErr != nil {
		return errors.Join(cause, err, markErr)
	}
	return errors.Join(cause, err)
}

// failNow marks the document FAILED before reporting the failure.
func (s *Service) failNow(ctx context.Context, documentID, revisionID int64, agent pipelineModels.AgentType, cause error) error {
	if _, err := s.markFailed(ctx, documentID, revisionID); err != nil {
		s.logger.Error("failed to mark document failed", "document_id", documentID, "error", err)
	}
	return s.fail(ctx, documentID, revisionID, agent, cause)
}

// reject handles a message that could not be decoded. When it still names a
// document revision that revision fails; otherwise it is dropped.
func (s *Service) reject(ctx context.Context, msg messaging.Message, documentID, revisionID int64, agent pipelineModels.AgentType, cause error) error {
	if !attributable(documentID, revisionID) {
		s.logger.Error("dropping unreadable pipeline message",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"key", msg.Key,
			"error", cause,
		)
		return cause
	}
	return s.fail(ctx, documentID, revisionID, agent, cause)
}

func attributable(documentID, revisionID int64) bool {
	return documentID > 0 && revisionID > 0
}
