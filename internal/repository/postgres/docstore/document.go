package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quill/internal/domain"
	models "quill/internal/domain/models/docstore"
	"quill/internal/domain/repositories"
	docstoreRepo "quill/internal/domain/repositories/docstore"
	"quill/internal/repository/postgres"
)

// PostgresDocumentRepository implements the DocumentRepository interface
type PostgresDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(config *postgres.RepositoryConfig) docstoreRepo.DocumentRepository {
	return &PostgresDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// selectColumns includes the current revision as a correlated subquery
func (r *PostgresDocumentRepository) selectColumns() string {
	return fmt.Sprintf(`
		d.id, d.parent_id, d.title, d.content, d.status, d.ai_status,
		COALESCE((SELECT MAX(rv.id) FROM %s rv WHERE rv.document_id = d.id), 0),
		d.created_by, d.updated_by, d.created_at, d.updated_at, d.deleted_at
	`, r.tables.Revisions)
}

func scanDocument(row pgx.Row, doc *models.Document) error {
	return row.Scan(
		&doc.ID,
		&doc.ParentID,
		&doc.Title,
		&doc.Content,
		&doc.Status,
		&doc.AIStatus,
		&doc.CurrentRevisionID,
		&doc.CreatedBy,
		&doc.UpdatedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.DeletedAt,
	)
}

// Create creates a new document
func (r *PostgresDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (parent_id, title, content, status, ai_status, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, r.tables.Documents)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		doc.ParentID,
		doc.Title,
		doc.Content,
		doc.Status,
		doc.AIStatus,
		doc.CreatedBy,
		doc.UpdatedBy,
		doc.CreatedAt,
		doc.UpdatedAt,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	return nil
}

// GetByID retrieves a document by ID in any status
func (r *PostgresDocumentRepository) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	executor := postgres.GetExecutor(ctx, r.pool)

	// Inside a transaction the row is locked first; the read below is a new
	// statement, so under READ COMMITTED it also sees revisions committed
	// by whoever held the lock before us.
	if repositories.GetTx(ctx) != nil {
		lockQuery := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, r.tables.Documents)
		var locked int64
		if err := executor.QueryRow(ctx, lockQuery, id).Scan(&locked); err != nil {
			if postgres.IsPgNoRowsError(err) {
				return nil, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
			}
			return nil, fmt.Errorf("lock document: %w", err)
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s d WHERE d.id = $1`, r.selectColumns(), r.tables.Documents)

	var doc models.Document
	if err := scanDocument(executor.QueryRow(ctx, query, id), &doc); err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	return &doc, nil
}

// Update persists the mutable fields of a document
func (r *PostgresDocumentRepository) Update(ctx context.Context, doc *models.Document) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET parent_id = $2, title = $3, content = $4, status = $5, ai_status = $6,
		    updated_by = $7, updated_at = $8, deleted_at = $9
		WHERE id = $1
	`, r.tables.Documents)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		doc.ID,
		doc.ParentID,
		doc.Title,
		doc.Content,
		doc.Status,
		doc.AIStatus,
		doc.UpdatedBy,
		doc.UpdatedAt,
		doc.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", doc.ID, domain.ErrNotFound)
	}

	return nil
}

// ListRoots lists non-deleted documents without a parent
func (r *PostgresDocumentRepository) ListRoots(ctx context.Context) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s d
		WHERE d.parent_id IS NULL AND d.status <> 'DELETED'
		ORDER BY d.id
	`, r.selectColumns(), r.tables.Documents)

	return r.list(ctx, query)
}

// ListChildren lists non-deleted direct children
func (r *PostgresDocumentRepository) ListChildren(ctx context.Context, parentID int64) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s d
		WHERE d.parent_id = $1 AND d.status <> 'DELETED'
		ORDER BY d.id
	`, r.selectColumns(), r.tables.Documents)

	return r.list(ctx, query, parentID)
}

// ListDeleted lists the trash, most recently deleted first
func (r *PostgresDocumentRepository) ListDeleted(ctx context.Context) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s d
		WHERE d.status = 'DELETED'
		ORDER BY d.deleted_at DESC, d.id
	`, r.selectColumns(), r.tables.Documents)

	return r.list(ctx, query)
}

func (r *PostgresDocumentRepository) list(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var doc models.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}

// SetAIStatus unconditionally sets ai_status
func (r *PostgresDocumentRepository) SetAIStatus(ctx context.Context, id int64, status models.AIStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET ai_status = $2 WHERE id = $1`, r.tables.Documents)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set ai status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CompareAndSetAIStatus moves ai_status only when it currently equals from
func (r *PostgresDocumentRepository) CompareAndSetAIStatus(ctx context.Context, id int64, from, to models.AIStatus) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET ai_status = $3 WHERE id = $1 AND ai_status = $2`, r.tables.Documents)

	executor := postgres.GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("compare and set ai status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
