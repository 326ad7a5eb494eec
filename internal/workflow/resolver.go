package workflow

import (
	"sort"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

// ValidationTarget is a (role, unit) pair selected to receive a
// validation request.
type ValidationTarget struct {
	Role models.UnitRole `json:"role"`
	Unit string          `json:"unit"`
}

// UnitValidators lists eligible member display names within one unit.
type UnitValidators struct {
	Unit    string   `json:"unit"`
	Members []string `json:"members"`
}

// ValidatorGroup groups eligible validators under one role.
type ValidatorGroup struct {
	Role  models.UnitRole  `json:"role"`
	Units []UnitValidators `json:"units"`
}

// validatorRoleOrder is a fixed priority order, not alphabetical.
var validatorRoleOrder = []models.UnitRole{
	models.UnitRoleOwner,
	models.UnitRoleAdmin,
	models.UnitRoleSuperAdmin,
}

// ResolveValidators computes the eligible approvers for a document,
// partitioned by role and unit. Roles appear in fixed priority order
// (OWNER, ADMIN, SUPERADMIN), units in the referral's order, members in
// roster insertion order. Units with no eligible member in a role are
// omitted, as are targets the requester already has a pending request
// for. Pure function; caching lives with the caller.
func ResolveValidators(units []models.Unit, doc *models.Document, requesterID string) []ValidatorGroup {
	pending := PendingTargets(doc, requesterID)

	groups := make([]ValidatorGroup, 0, len(validatorRoleOrder))
	for _, role := range validatorRoleOrder {
		group := ValidatorGroup{Role: role}
		for _, unit := range units {
			if _, dup := pending[ValidationTarget{Role: role, Unit: unit.Name}]; dup {
				continue
			}
			names := memberNames(unit, role, requesterID)
			if len(names) == 0 {
				continue
			}
			group.Units = append(group.Units, UnitValidators{Unit: unit.Name, Members: names})
		}
		if len(group.Units) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// memberNames returns the display names of unit members holding the role,
// in roster position order, excluding the requester.
func memberNames(unit models.Unit, role models.UnitRole, requesterID string) []string {
	members := make([]models.UnitMember, 0, len(unit.Members))
	for _, m := range unit.Members {
		if m.Role == role && m.UserID != requesterID {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Position < members[j].Position
	})
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.DisplayName
	}
	return names
}
