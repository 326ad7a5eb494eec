package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

func member(userID, name string, role models.UnitRole, position int) models.UnitMember {
	return models.UnitMember{UserID: userID, DisplayName: name, Role: role, Position: position}
}

func TestResolveValidatorsRoleOrderFixed(t *testing.T) {
	// Roles supplied in arbitrary order; output order must be OWNER,
	// ADMIN, SUPERADMIN.
	units := []models.Unit{
		{
			Name: "UnitA",
			Members: []models.UnitMember{
				member("u1", "Sana", models.UnitRoleSuperAdmin, 1),
				member("u2", "Alix", models.UnitRoleAdmin, 2),
				member("u3", "Omar", models.UnitRoleOwner, 3),
			},
		},
	}

	groups := ResolveValidators(units, buildDocument(event(models.VerbVersionAdded, "u9")), "u9")
	require.Len(t, groups, 3)
	require.Equal(t, models.UnitRoleOwner, groups[0].Role)
	require.Equal(t, models.UnitRoleAdmin, groups[1].Role)
	require.Equal(t, models.UnitRoleSuperAdmin, groups[2].Role)
}

func TestResolveValidatorsRosterOrderWithinUnit(t *testing.T) {
	units := []models.Unit{
		{
			Name: "UnitA",
			Members: []models.UnitMember{
				member("u2", "Second", models.UnitRoleOwner, 2),
				member("u1", "First", models.UnitRoleOwner, 1),
				member("u3", "Third", models.UnitRoleOwner, 3),
			},
		},
	}

	groups := ResolveValidators(units, buildDocument(event(models.VerbVersionAdded, "u9")), "u9")
	require.Len(t, groups, 1)
	require.Equal(t, []string{"First", "Second", "Third"}, groups[0].Units[0].Members)
}

func TestResolveValidatorsOmitsEmptyRoleUnits(t *testing.T) {
	units := []models.Unit{
		{Name: "UnitA", Members: []models.UnitMember{member("u1", "Omar", models.UnitRoleOwner, 1)}},
		{Name: "UnitB", Members: []models.UnitMember{member("u2", "Lena", models.UnitRoleMember, 1)}},
	}

	groups := ResolveValidators(units, buildDocument(event(models.VerbVersionAdded, "u9")), "u9")
	require.Len(t, groups, 1)
	require.Equal(t, models.UnitRoleOwner, groups[0].Role)
	require.Len(t, groups[0].Units, 1)
	require.Equal(t, "UnitA", groups[0].Units[0].Unit)
}

func TestResolveValidatorsExcludesRequester(t *testing.T) {
	units := []models.Unit{
		{
			Name: "UnitA",
			Members: []models.UnitMember{
				member("u1", "Omar", models.UnitRoleOwner, 1),
				member("u2", "Lena", models.UnitRoleOwner, 2),
			},
		},
	}

	groups := ResolveValidators(units, buildDocument(event(models.VerbVersionAdded, "u1")), "u1")
	require.Len(t, groups, 1)
	require.Equal(t, []string{"Lena"}, groups[0].Units[0].Members)
}

func TestResolveValidatorsSuppressesPendingTargets(t *testing.T) {
	units := []models.Unit{
		{Name: "UnitA", Members: []models.UnitMember{member("u1", "Omar", models.UnitRoleOwner, 1)}},
		{Name: "UnitB", Members: []models.UnitMember{member("u2", "Lena", models.UnitRoleOwner, 1)}},
	}
	doc := buildDocument(
		event(models.VerbVersionAdded, "u9"),
		requestEvent("u9", "UnitA", models.UnitRoleOwner),
	)

	groups := ResolveValidators(units, doc, "u9")
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Units, 1)
	require.Equal(t, "UnitB", groups[0].Units[0].Unit)

	// A replacement opens a fresh segment, so the target reappears.
	doc.Events = append(doc.Events, models.Event{
		Seq:     3,
		Verb:    models.VerbVersionUpdated,
		ActorID: "u9",
		State:   models.EventStateActive,
	})
	groups = ResolveValidators(units, doc, "u9")
	require.Len(t, groups[0].Units, 2)
}
