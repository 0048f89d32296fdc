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

// PostgresTagRepository implements the TagRepository interface
type PostgresTagRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTagRepository creates a new tag repository
func NewTagRepository(config *postgres.RepositoryConfig) docstoreRepo.TagRepository {
	return &PostgresTagRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// GetOrCreate returns the tag with (name, constant), inserting it when absent.
// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
func (r *PostgresTagRepository) GetOrCreate(ctx context.Context, name string, constant models.TagConstant) (*models.Tag, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, tag_constant)
		VALUES ($1, $2)
		ON CONFLICT (name, tag_constant) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, tag_constant
	`, r.tables.Tags)

	var tag models.Tag
	executor := postgres.GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, name, constant).Scan(&tag.ID, &tag.Name, &tag.TagConstant); err != nil {
		return nil, fmt.Errorf("get or create tag %q: %w", name, err)
	}

	return &tag, nil
}

// ReplaceForRevision swaps the tag set of one revision
func (r *PostgresTagRepository) ReplaceForRevision(ctx context.Context, documentID, revisionID int64, tagIDs []int64) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1 AND document_revision_id = $2`, r.tables.TagMaps)
	if _, err := executor.Exec(ctx, deleteQuery, documentID, revisionID); err != nil {
		return fmt.Errorf("clear tag maps: %w", err)
	}

	if len(tagIDs) == 0 {
		return nil
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (document_id, document_revision_id, tag_id)
		SELECT $1, $2, UNNEST($3::bigint[])
		ON CONFLICT DO NOTHING
	`, r.tables.TagMaps)
	if _, err := executor.Exec(ctx, insertQuery, documentID, revisionID, tagIDs); err != nil {
		return fmt.Errorf("insert tag maps: %w", err)
	}

	return nil
}

// ListByRevision lists the tags mapped to one revision
func (r *PostgresTagRepository) ListByRevision(ctx context.Context, documentID, revisionID int64) ([]models.Tag, error) {
	query := fmt.Sprintf(`
		SELECT t.id, t.name, t.tag_constant
		FROM %s t
		JOIN %s m ON m.tag_id = t.id
		WHERE m.document_id = $1 AND m.document_revision_id = $2
		ORDER BY t.tag_constant, t.name
	`, r.tables.Tags, r.tables.TagMaps)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, documentID, revisionID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.TagConstant); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}

	return tags, nil
}
