package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	"quill/internal/repository/postgres"
)

// PostgresSummaryRepository implements the SummaryRepository interface
type PostgresSummaryRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewSummaryRepository creates a new summary repository
func NewSummaryRepository(config *postgres.RepositoryConfig) docstoreRepo.SummaryRepository {
	return &PostgresSummaryRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Upsert writes the summary for (document, revision)
func (r *PostgresSummaryRepository) Upsert(ctx context.Context, s *models.Summary) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, document_revision_id, summary)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, document_revision_id)
		DO UPDATE SET summary = EXCLUDED.summary, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, r.tables.Summaries)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, s.DocumentID, s.RevisionID, s.Summary).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetByRevision returns the summary of one revision
func (r *PostgresSummaryRepository) GetByRevision(ctx context.Context, documentID, revisionID int64) (*models.Summary, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, document_revision_id, summary, created_at, updated_at
		FROM %s
		WHERE document_id = $1 AND document_revision_id = $2
	`, r.tables.Summaries)

	var s models.Summary
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, documentID, revisionID).Scan(
		&s.ID, &s.DocumentID, &s.RevisionID, &s.Summary, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("summary for document %d revision %d: %w", documentID, revisionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &s, nil
}
