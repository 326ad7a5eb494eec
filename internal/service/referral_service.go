package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/referral-portal-api/internal/models"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type referralStore interface {
	GetByID(ctx context.Context, id string) (*models.Referral, error)
}

type referralUnitStore interface {
	ListByReferral(ctx context.Context, referralID string) ([]models.Unit, error)
}

// ReferralService serves the case file header: state, validation summary,
// and the organizational units with their rosters.
type ReferralService struct {
	referrals referralStore
	units     referralUnitStore
	logger    *zap.Logger
}

// NewReferralService constructs the service.
func NewReferralService(referrals referralStore, units referralUnitStore, logger *zap.Logger) *ReferralService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferralService{referrals: referrals, units: units, logger: logger}
}

// Get returns the referral with its units loaded.
func (s *ReferralService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Referral, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	referral, err := s.referrals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "referral not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch referral")
	}
	units, err := s.units.ListByReferral(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch units")
	}
	referral.Units = units
	return referral, nil
}
