package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/referral-portal-api/internal/models"
)

func buildDocument(events ...models.Event) *models.Document {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range events {
		events[i].Seq = int64(i + 1)
		events[i].RecordedAt = base.Add(time.Duration(i) * time.Minute)
		if events[i].State == "" {
			events[i].State = models.EventStateActive
		}
	}
	return &models.Document{
		ID:       "doc-1",
		ReportID: "report-1",
		Kind:     models.DocumentKindVersion,
		Ordinal:  1,
		Events:   events,
	}
}

func event(verb models.EventVerb, actorID string) models.Event {
	return models.Event{DocumentID: "doc-1", Verb: verb, ActorID: actorID, ActorName: actorID}
}

func requestEvent(actorID, unit string, role models.UnitRole) models.Event {
	ev := event(models.VerbRequestValidation, actorID)
	ev.Payload = models.EventPayload{ValidationRequest: &models.ValidationRequestPayload{
		RequestID:    "req-1",
		ReceiverUnit: unit,
		ReceiverRole: role,
	}}
	return ev
}

func openReferral() *models.Referral {
	return &models.Referral{ID: "ref-1", State: models.ReferralStateOpen}
}

func TestDeriveStateDraftForUploadOnlySequences(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)

	require.Equal(t, StateDraft, engine.DeriveState(buildDocument(event(models.VerbVersionAdded, "u1"))))
	require.Equal(t, StateDraft, engine.DeriveState(buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbVersionUpdated, "u1"),
	)))
	require.Equal(t, StateDraft, engine.DeriveState(&models.Document{}))
}

func TestDeriveStateValidationRequested(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		requestEvent("u2", "UnitA", models.UnitRoleOwner),
	)
	require.Equal(t, StateValidationRequested, engine.DeriveState(doc))
}

func TestDeriveStateValidatedScenario(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		requestEvent("u2", "UnitA", models.UnitRoleOwner),
		event(models.VerbVersionValidated, "u3"),
	)

	require.Equal(t, StateValidated, engine.DeriveState(doc))
	require.True(t, HasUserValidated(doc, "u3"))
	require.False(t, HasUserValidated(doc, "u2"))
}

func TestDeriveStateChangeRequestAfterValidation(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		requestEvent("u2", "UnitA", models.UnitRoleOwner),
		event(models.VerbVersionValidated, "u3"),
		event(models.VerbRequestChange, "u4"),
	)

	require.Equal(t, StateChangeRequested, engine.DeriveState(doc))
	require.True(t, IsChangeRequested(doc))

	actions := engine.PermittedActions(doc, openReferral(), Actor{ID: "u1", Granted: false})
	require.False(t, actions.Contains(ActionReplace))
	require.True(t, actions.Contains(ActionRequestValidation))
}

func TestIsChangeRequestedResetByReplacement(t *testing.T) {
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbRequestChange, "u2"),
	)
	require.True(t, IsChangeRequested(doc))

	doc = buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbRequestChange, "u2"),
		event(models.VerbVersionUpdated, "u1"),
	)
	require.False(t, IsChangeRequested(doc))

	engine := NewEngine(PolicyFirstResponder)
	require.Equal(t, StateDraft, engine.DeriveState(doc))
}

func TestEnsureAllowedReplaceBlockedWhileChangeRequested(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbRequestChange, "u2"),
	)

	err := engine.EnsureAllowed(doc, openReferral(), Actor{ID: "u1"}, ActionReplace)
	require.Error(t, err)
	require.Contains(t, err.Error(), "REPLACE")
	require.Contains(t, err.Error(), string(StateChangeRequested))

	clean := buildDocument(event(models.VerbVersionAdded, "u1"))
	require.NoError(t, engine.EnsureAllowed(clean, openReferral(), Actor{ID: "u1"}, ActionReplace))
}

func TestEnsureAllowedClosedReferral(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	doc := buildDocument(event(models.VerbVersionAdded, "u1"))
	closed := &models.Referral{ID: "ref-1", State: models.ReferralStateClosed}

	err := engine.EnsureAllowed(doc, closed, Actor{ID: "u1", Granted: true}, ActionValidate)
	require.Error(t, err)
	require.Empty(t, engine.PermittedActions(doc, closed, Actor{ID: "u1", Granted: true}))

	splitting := &models.Referral{ID: "ref-1", State: models.ReferralStateSplitting}
	require.Empty(t, engine.PermittedActions(doc, splitting, Actor{ID: "u1", Granted: true}))
}

func TestPermittedActionsGrantedGating(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	doc := buildDocument(event(models.VerbVersionAdded, "u1"))

	member := engine.PermittedActions(doc, openReferral(), Actor{ID: "u5", Granted: false})
	require.False(t, member.Contains(ActionValidate))
	require.False(t, member.Contains(ActionRequestChange))
	require.True(t, member.Contains(ActionRequestValidation))
	require.True(t, member.Contains(ActionReplace))

	organizer := engine.PermittedActions(doc, openReferral(), Actor{ID: "u5", Granted: true})
	require.True(t, organizer.Contains(ActionValidate))
	require.True(t, organizer.Contains(ActionRequestChange))
	require.Equal(t, []Action{ActionRequestValidation, ActionRequestChange, ActionValidate, ActionReplace}, organizer.List())
}

func TestHasUserRequestedChangeScopedToSegment(t *testing.T) {
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbRequestChange, "u2"),
	)
	require.True(t, HasUserRequestedChange(doc, "u2"))
	require.False(t, HasUserRequestedChange(doc, "u3"))

	replaced := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbRequestChange, "u2"),
		event(models.VerbVersionUpdated, "u1"),
	)
	require.False(t, HasUserRequestedChange(replaced, "u2"))
}

func TestInactiveEventsIgnored(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	superseded := event(models.VerbRequestChange, "u2")
	superseded.State = models.EventStateInactive
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		superseded,
	)

	require.Equal(t, StateDraft, engine.DeriveState(doc))
	require.False(t, IsChangeRequested(doc))
}

func TestUnanimousPolicyRequiresAllTargets(t *testing.T) {
	engine := NewEngine(PolicyUnanimous)
	doc := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		requestEvent("u2", "UnitA", models.UnitRoleOwner),
		requestEvent("u2", "UnitB", models.UnitRoleAdmin),
		event(models.VerbVersionValidated, "u3"),
	)
	require.Equal(t, StateValidationRequested, engine.DeriveState(doc))

	doc.Events = append(doc.Events, models.Event{
		Seq:        5,
		Verb:       models.VerbVersionValidated,
		ActorID:    "u4",
		State:      models.EventStateActive,
		RecordedAt: doc.Events[len(doc.Events)-1].RecordedAt.Add(time.Minute),
	})
	require.Equal(t, StateValidated, engine.DeriveState(doc))
}

func TestParsePolicyDefaultsToFirstResponder(t *testing.T) {
	require.Equal(t, PolicyFirstResponder, ParsePolicy(""))
	require.Equal(t, PolicyFirstResponder, ParsePolicy("anything"))
	require.Equal(t, PolicyUnanimous, ParsePolicy("unanimous"))
}

func TestAppendixVerbsFoldLikeVersionVerbs(t *testing.T) {
	engine := NewEngine(PolicyFirstResponder)
	appendix := buildDocument(
		event(models.VerbVersionAdded, "u1"),
		event(models.VerbAppendixRequestValidation, "u2"),
		event(models.VerbAppendixValidated, "u3"),
	)
	appendix.Kind = models.DocumentKindAppendix

	require.Equal(t, StateValidated, engine.DeriveState(appendix))
	require.True(t, HasUserValidated(appendix, "u3"))

	appendix.Events = append(appendix.Events, models.Event{
		Seq:     4,
		Verb:    models.VerbAppendixRequestChange,
		ActorID: "u4",
		State:   models.EventStateActive,
	})
	require.Equal(t, StateChangeRequested, engine.DeriveState(appendix))
	require.True(t, IsChangeRequested(appendix))
}
