package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

// ReportRepository reads reports and their loose attachments.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// GetByID fetches a report by identifier, without documents.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	const query = `SELECT id, referral_id, title, created_by, created_at, updated_at
	FROM reports WHERE id = $1`
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListAttachments returns the report's plain attachments in upload order.
func (r *ReportRepository) ListAttachments(ctx context.Context, reportID string) ([]models.Attachment, error) {
	const query = `SELECT id, report_id, file_name, file_path, mime_type, file_size, created_by, created_at
	FROM attachments WHERE report_id = $1 ORDER BY created_at ASC, id ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, reportID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}
