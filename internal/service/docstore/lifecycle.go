package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/config"
	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	pipelineModels "quill/internal/domain/models/pipeline"
	"quill/internal/domain/repositories"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	docstoreSvc "quill/internal/domain/services/docstore"
	pipelineSvc "quill/internal/domain/services/pipeline"
	"quill/internal/messaging"
	"quill/internal/search"
)

// lifecycleService implements the LifecycleService interface
type lifecycleService struct {
	docRepo   docstoreRepo.DocumentRepository
	revRepo   docstoreRepo.RevisionRepository
	tagRepo   docstoreRepo.TagRepository
	txManager repositories.TransactionManager
	validator docstoreSvc.Validator
	publisher messaging.Publisher
	notifier  pipelineSvc.StatusNotifier
	indexer   search.Indexer
	now       func() time.Time
	logger    *slog.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	docRepo docstoreRepo.DocumentRepository,
	revRepo docstoreRepo.RevisionRepository,
	tagRepo docstoreRepo.TagRepository,
	txManager repositories.TransactionManager,
	validator docstoreSvc.Validator,
	publisher messaging.Publisher,
	notifier pipelineSvc.StatusNotifier,
	indexer search.Indexer,
	logger *slog.Logger,
) docstoreSvc.LifecycleService {
	if indexer == nil {
		indexer = search.Noop{}
	}
	return &lifecycleService{
		docRepo:   docRepo,
		revRepo:   revRepo,
		tagRepo:   tagRepo,
		txManager: txManager,
		validator: validator,
		publisher: publisher,
		notifier:  notifier,
		indexer:   indexer,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

func (s *lifecycleService) Create(ctx context.Context, userID string, req *docstoreSvc.CreateDocumentRequest) (*models.Document, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.ValidateCreate(req); err != nil {
		return nil, err
	}

	var doc *models.Document
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if req.ParentID != nil {
			if _, err := s.loadLive(txCtx, userID, *req.ParentID); err != nil {
				return fmt.Errorf("invalid parent: %w", err)
			}
		}

		now := s.now()
		doc = &models.Document{
			ParentID:  req.ParentID,
			Title:     req.Title,
			Content:   req.Content,
			Status:    models.StatusDraft,
			AIStatus:  models.AIStatusPending,
			CreatedBy: userID,
			UpdatedBy: userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.docRepo.Create(txCtx, doc); err != nil {
			return err
		}
		return s.appendRevision(txCtx, doc, userID, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document created",
		"id", doc.ID,
		"parent_id", doc.ParentID,
		"user_id", userID,
	)
	return doc, nil
}

func (s *lifecycleService) Publish(ctx context.Context, userID string, id int64) (*models.Document, error) {
	var doc *models.Document
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		var err error
		doc, err = s.load(txCtx, userID, id)
		if err != nil {
			return err
		}
		if doc.Status != models.StatusDraft {
			return domain.NewInvalidStateError(id, string(doc.Status), string(models.StatusDraft))
		}

		now := s.now()
		doc.Status = models.StatusActive
		doc.AIStatus = models.AIStatusPending
		doc.UpdatedBy = userID
		doc.UpdatedAt = now
		if err := s.docRepo.Update(txCtx, doc); err != nil {
			return err
		}
		return s.appendRevision(txCtx, doc, userID, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document published", "id", doc.ID, "revision_id", doc.CurrentRevisionID)
	s.startPipeline(ctx, doc)
	s.index(ctx, doc)
	return doc, nil
}

func (s *lifecycleService) Update(ctx context.Context, userID string, id int64, req *docstoreSvc.UpdateDocumentRequest) (*models.Document, error) {
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		req.Title = &trimmed
	}
	if err := s.validator.ValidateUpdate(req); err != nil {
		return nil, err
	}

	var doc *models.Document
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		var err error
		doc, err = s.loadLive(txCtx, userID, id)
		if err != nil {
			return err
		}

		if req.Title != nil {
			doc.Title = *req.Title
		}
		if req.Content != nil {
			doc.Content = req.Content
		}
		// Drafts are never analyzed, so their status is left alone.
		if doc.Status == models.StatusActive {
			doc.AIStatus = models.AIStatusPending
		}

		now := s.now()
		doc.UpdatedBy = userID
		doc.UpdatedAt = now
		if err := s.docRepo.Update(txCtx, doc); err != nil {
			return err
		}
		return s.appendRevision(txCtx, doc, userID, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("document updated", "id", doc.ID, "status", doc.Status, "revision_id", doc.CurrentRevisionID)
	if doc.Status == models.StatusActive {
		s.startPipeline(ctx, doc)
		s.index(ctx, doc)
	}
	return doc, nil
}

func (s *lifecycleService) Delete(ctx context.Context, userID string, id int64) ([]models.Document, error) {
	affected := []models.Document{}
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		root, err := s.load(txCtx, userID, id)
		if err != nil {
			return err
		}
		if root.Status == models.StatusDeleted {
			return nil
		}

		subtree, err := s.collectSubtree(txCtx, root)
		if err != nil {
			return err
		}

		deletedAt := s.now()
		for _, node := range subtree {
			// Re-read under the row lock so concurrent status writes are not lost
			doc, err := s.docRepo.GetByID(txCtx, node.ID)
			if err != nil {
				return fmt.Errorf("delete document %d: %w", node.ID, err)
			}
			if doc.Status == models.StatusDeleted {
				continue
			}
			doc.Status = models.StatusDeleted
			doc.DeletedAt = &deletedAt
			doc.UpdatedBy = userID
			doc.UpdatedAt = deletedAt
			if err := s.docRepo.Update(txCtx, doc); err != nil {
				return fmt.Errorf("delete document %d: %w", doc.ID, err)
			}
			if err := s.appendRevision(txCtx, doc, userID, deletedAt); err != nil {
				return err
			}
			affected = append(affected, *doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return affected, nil
	}

	ids := make([]int64, 0, len(affected))
	for _, doc := range affected {
		ids = append(ids, doc.ID)
	}
	s.logger.Info("documents deleted", "root_id", id, "count", len(ids), "user_id", userID)
	if err := s.indexer.DeleteDocuments(ctx, ids); err != nil {
		s.logger.Warn("failed to remove documents from search index", "ids", ids, "error", err)
	}
	return affected, nil
}

func (s *lifecycleService) Restore(ctx context.Context, userID string, id int64) (*models.Document, error) {
	var doc *models.Document
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		var err error
		doc, err = s.load(txCtx, userID, id)
		if err != nil {
			return err
		}
		if doc.Status != models.StatusDeleted {
			return domain.NewInvalidStateError(id, string(doc.Status), string(models.StatusDeleted))
		}

		if doc.ParentID != nil {
			parent, err := s.docRepo.GetByID(txCtx, *doc.ParentID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				doc.ParentID = nil
			case err != nil:
				return err
			case parent.Status != models.StatusActive:
				doc.ParentID = nil
			}
		}

		now := s.now()
		doc.Status = models.StatusActive
		doc.AIStatus = models.AIStatusPending
		doc.DeletedAt = nil
		doc.UpdatedBy = userID
		doc.UpdatedAt = now
		if err := s.docRepo.Update(txCtx, doc); err != nil {
			return err
		}
		return s.appendRevision(txCtx, doc, userID, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document restored", "id", doc.ID, "parent_id", doc.ParentID)
	s.startPipeline(ctx, doc)
	s.index(ctx, doc)
	return doc, nil
}

func (s *lifecycleService) Reanalyze(ctx context.Context, userID string, id int64) (*models.Document, error) {
	var doc *models.Document
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		var err error
		doc, err = s.load(txCtx, userID, id)
		if err != nil {
			return err
		}
		if doc.Status != models.StatusActive {
			return domain.NewInvalidStateError(id, string(doc.Status), string(models.StatusActive))
		}
		if err := s.docRepo.SetAIStatus(txCtx, id, models.AIStatusPending); err != nil {
			return err
		}
		doc.AIStatus = models.AIStatusPending
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document reanalysis requested", "id", id, "revision_id", doc.CurrentRevisionID)
	s.startPipeline(ctx, doc)
	return doc, nil
}

func (s *lifecycleService) Get(ctx context.Context, userID string, id int64) (*models.Document, error) {
	return s.loadLive(ctx, userID, id)
}

func (s *lifecycleService) List(ctx context.Context, userID string, parentID *int64) ([]models.Document, error) {
	var (
		docs []models.Document
		err  error
	)
	if parentID != nil {
		if _, err := s.loadLive(ctx, userID, *parentID); err != nil {
			return nil, err
		}
		docs, err = s.docRepo.ListChildren(ctx, *parentID)
	} else {
		docs, err = s.docRepo.ListRoots(ctx)
	}
	if err != nil {
		return nil, err
	}
	return visible(docs, userID), nil
}

func (s *lifecycleService) ListTrash(ctx context.Context, userID string) ([]models.Document, error) {
	docs, err := s.docRepo.ListDeleted(ctx)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *lifecycleService) ListRevisions(ctx context.Context, userID string, id int64, page, limit int) (*models.RevisionPage, error) {
	if _, err := s.load(ctx, userID, id); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = config.DefaultRevisionPageSize
	}
	if limit > config.MaxRevisionPageSize {
		limit = config.MaxRevisionPageSize
	}

	revisions, total, err := s.revRepo.ListByDocument(ctx, id, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &models.RevisionPage{
		Revisions: revisions,
		Page:      page,
		Limit:     limit,
		Total:     total,
	}, nil
}

func (s *lifecycleService) ListTags(ctx context.Context, userID string, id int64) ([]models.Tag, error) {
	doc, err := s.loadLive(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.tagRepo.ListByRevision(ctx, doc.ID, doc.CurrentRevisionID)
}

func (s *lifecycleService) GetAIStatus(ctx context.Context, userID string, id int64) (models.AIStatus, error) {
	doc, err := s.load(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return doc.AIStatus, nil
}

// load fetches a document in any status, hiding other users' drafts
func (s *lifecycleService) load(ctx context.Context, userID string, id int64) (*models.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.VisibleTo(userID) {
		return nil, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

// loadLive is load without DELETED documents
func (s *lifecycleService) loadLive(ctx context.Context, userID string, id int64) (*models.Document, error) {
	doc, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.StatusDeleted {
		return nil, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *lifecycleService) appendRevision(ctx context.Context, doc *models.Document, userID string, at time.Time) error {
	rev := models.NewRevision(doc, userID, at)
	if err := s.revRepo.Create(ctx, rev); err != nil {
		return fmt.Errorf("append revision for document %d: %w", doc.ID, err)
	}
	doc.CurrentRevisionID = rev.ID
	return nil
}

// startPipeline runs after commit. A failed publish leaves the document
// PENDING; Reanalyze re-emits the trigger.
func (s *lifecycleService) startPipeline(ctx context.Context, doc *models.Document) {
	s.notifier.NotifyStatus(ctx, doc.ID, models.AIStatusPending)

	msg := pipelineModels.DocumentReady{
		DocumentID:         doc.ID,
		DocumentRevisionID: doc.CurrentRevisionID,
		Title:              doc.Title,
		Content:            doc.Content,
	}
	err := messaging.PublishJSON(ctx, s.publisher, pipelineModels.TopicDocumentReady, pipelineModels.Key(doc.ID), msg)
	if err != nil {
		s.logger.Error("failed to publish document event",
			"id", doc.ID,
			"revision_id", doc.CurrentRevisionID,
			"error", err,
		)
	}
}

func (s *lifecycleService) index(ctx context.Context, doc *models.Document) {
	if err := s.indexer.IndexDocument(ctx, search.NewDocumentRecord(doc, "", nil)); err != nil {
		s.logger.Warn("failed to index document", "id", doc.ID, "error", err)
	}
}

func visible(docs []models.Document, userID string) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for i := range docs {
		if docs[i].VisibleTo(userID) {
			out = append(out, docs[i])
		}
	}
	return out
}
