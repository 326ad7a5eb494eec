package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

// DocumentRepository persists report documents (versions and appendices).
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document, assigning the next ordinal for its kind
// within the report. The unique (report_id, kind, ordinal) index makes a
// concurrent loser fail rather than double-assign.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt

	const query = `INSERT INTO documents
	(id, report_id, kind, ordinal, file_name, file_path, mime_type, file_size, created_by, created_at, updated_at)
	VALUES ($1, $2, $3,
		(SELECT COALESCE(MAX(ordinal), 0) + 1 FROM documents WHERE report_id = $2 AND kind = $3),
		$4, $5, $6, $7, $8, $9, $10)
	RETURNING ordinal`
	if err := r.db.QueryRowxContext(ctx, query,
		doc.ID, doc.ReportID, doc.Kind,
		doc.FileName, doc.FilePath, doc.MimeType, doc.FileSize,
		doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.Ordinal); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID fetches a document without its events.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	const query = `SELECT id, report_id, kind, ordinal, file_name, file_path, mime_type, file_size,
	created_by, created_at, updated_at, deleted_at
	FROM documents WHERE id = $1 AND deleted_at IS NULL`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByReport returns the report's documents of one kind in ordinal order.
func (r *DocumentRepository) ListByReport(ctx context.Context, reportID string, kind models.DocumentKind) ([]models.Document, error) {
	const query = `SELECT id, report_id, kind, ordinal, file_name, file_path, mime_type, file_size,
	created_by, created_at, updated_at, deleted_at
	FROM documents WHERE report_id = $1 AND kind = $2 AND deleted_at IS NULL
	ORDER BY ordinal ASC`
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, reportID, kind); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ReplaceFile updates the file reference in place. Identity and ordinal
// are preserved; the caller appends the matching upload event.
func (r *DocumentRepository) ReplaceFile(ctx context.Context, id, fileName, filePath, mimeType string, fileSize int64, updatedAt time.Time) error {
	const query = `UPDATE documents
	SET file_name = $1, file_path = $2, mime_type = $3, file_size = $4, updated_at = $5
	WHERE id = $6 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, fileName, filePath, mimeType, fileSize, updatedAt, id)
	if err != nil {
		return fmt.Errorf("replace document file: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("replace document file: no rows updated")
	}
	return nil
}
