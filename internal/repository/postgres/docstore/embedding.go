package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	"quill/internal/repository/postgres"
)

// PostgresEmbeddingRepository implements the EmbeddingRepository interface
type PostgresEmbeddingRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewEmbeddingRepository creates a new embedding repository
func NewEmbeddingRepository(config *postgres.RepositoryConfig) docstoreRepo.EmbeddingRepository {
	return &PostgresEmbeddingRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Upsert writes the embedding for (document, revision). Redelivered
// requests overwrite the same row.
func (r *PostgresEmbeddingRepository) Upsert(ctx context.Context, e *models.Embedding) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, document_revision_id, model, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, document_revision_id)
		DO UPDATE SET model = EXCLUDED.model, embedding = EXCLUDED.embedding, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, r.tables.Embeddings)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		e.DocumentID,
		e.RevisionID,
		e.Model,
		pgvector.NewVector(e.Vector),
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// GetByRevision returns the embedding of one revision
func (r *PostgresEmbeddingRepository) GetByRevision(ctx context.Context, documentID, revisionID int64) (*models.Embedding, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, document_revision_id, model, embedding, created_at, updated_at
		FROM %s
		WHERE document_id = $1 AND document_revision_id = $2
	`, r.tables.Embeddings)

	var e models.Embedding
	var vec pgvector.Vector
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, documentID, revisionID).Scan(
		&e.ID, &e.DocumentID, &e.RevisionID, &e.Model, &vec, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("embedding for document %d revision %d: %w", documentID, revisionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	e.Vector = vec.Slice()
	return &e, nil
}
