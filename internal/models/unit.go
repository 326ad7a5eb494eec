package models

import "time"

// UnitRole is a member's role within an organizational unit. Unit roles
// are independent of the portal-wide RBAC role on the user account.
type UnitRole string

const (
	UnitRoleOwner      UnitRole = "OWNER"
	UnitRoleAdmin      UnitRole = "ADMIN"
	UnitRoleSuperAdmin UnitRole = "SUPERADMIN"
	UnitRoleMember     UnitRole = "MEMBER"
)

// OrganizerRoles are the unit roles that grant change-request and
// validation rights on the parent referral.
var OrganizerRoles = []UnitRole{UnitRoleOwner, UnitRoleAdmin, UnitRoleSuperAdmin}

// IsOrganizer reports whether the role carries organizer permissions.
func (r UnitRole) IsOrganizer() bool {
	for _, role := range OrganizerRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Unit is an organizational unit attached to a referral.
type Unit struct {
	ID         string       `db:"id" json:"id"`
	ReferralID string       `db:"referral_id" json:"referral_id"`
	Name       string       `db:"name" json:"name"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	Members    []UnitMember `db:"-" json:"members,omitempty"`
}

// UnitMember links a user to a unit with a role. Position preserves the
// roster insertion order, which validator listings must respect.
type UnitMember struct {
	ID          string    `db:"id" json:"id"`
	UnitID      string    `db:"unit_id" json:"unit_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Role        UnitRole  `db:"role" json:"role"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
