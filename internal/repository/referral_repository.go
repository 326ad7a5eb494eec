package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

// ReferralRepository persists referral case files.
type ReferralRepository struct {
	db *sqlx.DB
}

// NewReferralRepository constructs the repository.
func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// GetByID fetches a referral by identifier.
func (r *ReferralRepository) GetByID(ctx context.Context, id string) (*models.Referral, error) {
	const query = `SELECT id, reference, title, state, validation_state, created_at, updated_at
	FROM referrals WHERE id = $1`
	var referral models.Referral
	if err := r.db.GetContext(ctx, &referral, query, id); err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetByReportID resolves the referral owning a report.
func (r *ReferralRepository) GetByReportID(ctx context.Context, reportID string) (*models.Referral, error) {
	const query = `SELECT rf.id, rf.reference, rf.title, rf.state, rf.validation_state, rf.created_at, rf.updated_at
	FROM referrals rf
	JOIN reports rp ON rp.referral_id = rf.id
	WHERE rp.id = $1`
	var referral models.Referral
	if err := r.db.GetContext(ctx, &referral, query, reportID); err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetByDocumentID resolves the referral owning a document.
func (r *ReferralRepository) GetByDocumentID(ctx context.Context, documentID string) (*models.Referral, error) {
	const query = `SELECT rf.id, rf.reference, rf.title, rf.state, rf.validation_state, rf.created_at, rf.updated_at
	FROM referrals rf
	JOIN reports rp ON rp.referral_id = rf.id
	JOIN documents d ON d.report_id = rp.id
	WHERE d.id = $1`
	var referral models.Referral
	if err := r.db.GetContext(ctx, &referral, query, documentID); err != nil {
		return nil, err
	}
	return &referral, nil
}

// UpdateValidationState stores the recomputed referral-level review state.
func (r *ReferralRepository) UpdateValidationState(ctx context.Context, id string, state models.ReferralValidationState, updatedAt time.Time) error {
	const query = `UPDATE referrals SET validation_state = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, state, updatedAt, id); err != nil {
		return fmt.Errorf("update referral validation state: %w", err)
	}
	return nil
}
