package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

// UnitRepository reads the organizational units attached to referrals.
type UnitRepository struct {
	db *sqlx.DB
}

// NewUnitRepository constructs the repository.
func NewUnitRepository(db *sqlx.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

// ListByReferral returns the referral's units with their rosters, units in
// creation order and members in roster position order.
func (r *UnitRepository) ListByReferral(ctx context.Context, referralID string) ([]models.Unit, error) {
	const unitQuery = `SELECT id, referral_id, name, created_at
	FROM units WHERE referral_id = $1 ORDER BY created_at ASC, id ASC`
	var units []models.Unit
	if err := r.db.SelectContext(ctx, &units, unitQuery, referralID); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		return units, nil
	}

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	const memberQuery = `SELECT id, unit_id, user_id, display_name, role, position, created_at
	FROM unit_members WHERE unit_id = ANY($1) ORDER BY unit_id, position ASC`
	var members []models.UnitMember
	if err := r.db.SelectContext(ctx, &members, memberQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list unit members: %w", err)
	}

	byUnit := make(map[string][]models.UnitMember, len(units))
	for _, m := range members {
		byUnit[m.UnitID] = append(byUnit[m.UnitID], m)
	}
	for i := range units {
		units[i].Members = byUnit[units[i].ID]
	}
	return units, nil
}

// IsOrganizer reports whether the user holds an organizer role in any of
// the referral's units.
func (r *UnitRepository) IsOrganizer(ctx context.Context, referralID, userID string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM unit_members um
		JOIN units u ON u.id = um.unit_id
		WHERE u.referral_id = $1 AND um.user_id = $2 AND um.role IN ('OWNER', 'ADMIN', 'SUPERADMIN')
	)`
	var organizer bool
	if err := r.db.GetContext(ctx, &organizer, query, referralID, userID); err != nil {
		return false, fmt.Errorf("check organizer: %w", err)
	}
	return organizer, nil
}

// MemberRole returns the user's unit role within the referral, preferring
// the highest-priority organizer role when the user sits in several units.
func (r *UnitRepository) MemberRole(ctx context.Context, referralID, userID string) (models.UnitRole, error) {
	const query = `SELECT um.role FROM unit_members um
	JOIN units u ON u.id = um.unit_id
	WHERE u.referral_id = $1 AND um.user_id = $2
	ORDER BY CASE um.role
		WHEN 'OWNER' THEN 0
		WHEN 'ADMIN' THEN 1
		WHEN 'SUPERADMIN' THEN 2
		ELSE 3 END
	LIMIT 1`
	var role models.UnitRole
	if err := r.db.GetContext(ctx, &role, query, referralID, userID); err != nil {
		return "", err
	}
	return role, nil
}
