package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	models "quill/internal/domain/models/docstore"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	"quill/internal/repository/postgres"
)

// PostgresRevisionRepository implements the RevisionRepository interface
type PostgresRevisionRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewRevisionRepository creates a new revision repository
func NewRevisionRepository(config *postgres.RepositoryConfig) docstoreRepo.RevisionRepository {
	return &PostgresRevisionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create appends a revision
func (r *PostgresRevisionRepository) Create(ctx context.Context, rev *models.Revision) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, title, content, status, parent_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, r.tables.Revisions)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		rev.DocumentID,
		rev.Title,
		rev.Content,
		rev.Status,
		rev.ParentID,
		rev.CreatedBy,
		rev.CreatedAt,
	).Scan(&rev.ID, &rev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create revision: %w", err)
	}

	return nil
}

// ListByDocument returns one page of revisions, newest first
func (r *PostgresRevisionRepository) ListByDocument(ctx context.Context, documentID int64, limit, offset int) ([]models.Revision, int, error) {
	executor := postgres.GetExecutor(ctx, r.pool)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE document_id = $1`, r.tables.Revisions)
	if err := executor.QueryRow(ctx, countQuery, documentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count revisions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, title, content, status, parent_id, created_by, created_at
		FROM %s
		WHERE document_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, r.tables.Revisions)

	rows, err := executor.Query(ctx, query, documentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	revisions := []models.Revision{}
	for rows.Next() {
		var rev models.Revision
		if err := rows.Scan(
			&rev.ID,
			&rev.DocumentID,
			&rev.Title,
			&rev.Content,
			&rev.Status,
			&rev.ParentID,
			&rev.CreatedBy,
			&rev.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan revision: %w", err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate revisions: %w", err)
	}

	return revisions, total, nil
}
