package workflow

import (
	"fmt"
	"strings"

	"github.com/noah-isme/referral-portal-api/internal/models"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

// State is the derived lifecycle state of a document. It is never stored:
// every caller recomputes it from the ordered event log so state and log
// cannot disagree.
type State string

const (
	StateDraft               State = "DRAFT"
	StateValidationRequested State = "VALIDATION_REQUESTED"
	StateChangeRequested     State = "CHANGE_REQUESTED"
	StateValidated           State = "VALIDATED"
)

// Action enumerates the workflow controls exposed to the presentation layer.
type Action string

const (
	ActionRequestValidation Action = "REQUEST_VALIDATION"
	ActionRequestChange     Action = "REQUEST_CHANGE"
	ActionValidate          Action = "VALIDATE"
	ActionReplace           Action = "REPLACE"
)

// allActions fixes the rendering order of action views.
var allActions = []Action{ActionRequestValidation, ActionRequestChange, ActionValidate, ActionReplace}

// ActionSet is the set of actions currently permitted for an actor.
type ActionSet map[Action]struct{}

// Contains reports whether the action is permitted.
func (s ActionSet) Contains(a Action) bool {
	_, ok := s[a]
	return ok
}

// List returns the permitted actions in fixed order.
func (s ActionSet) List() []Action {
	out := make([]Action, 0, len(s))
	for _, a := range allActions {
		if s.Contains(a) {
			out = append(out, a)
		}
	}
	return out
}

// ValidationPolicy decides when a multi-target validation request counts
// as satisfying the document.
type ValidationPolicy string

const (
	// PolicyFirstResponder marks the document validated as soon as any
	// granted user records approval, regardless of outstanding targets.
	PolicyFirstResponder ValidationPolicy = "FIRST_RESPONDER"
	// PolicyUnanimous requires a distinct validator per outstanding
	// target before the document derives as validated.
	PolicyUnanimous ValidationPolicy = "UNANIMOUS"
)

// ParsePolicy normalises a configured policy string, defaulting to
// first-responder (the historically observed behaviour).
func ParsePolicy(raw string) ValidationPolicy {
	if strings.EqualFold(raw, string(PolicyUnanimous)) {
		return PolicyUnanimous
	}
	return PolicyFirstResponder
}

// Actor is the engine's view of the requesting user. Granted means the
// user holds organizer-level permission on the parent referral (unit
// organizer role or portal admin); the service layer resolves it.
type Actor struct {
	ID      string
	Granted bool
}

// Engine derives document state and permitted actions from event logs.
type Engine struct {
	policy ValidationPolicy
}

// NewEngine constructs an engine with the given validation policy.
func NewEngine(policy ValidationPolicy) *Engine {
	if policy == "" {
		policy = PolicyFirstResponder
	}
	return &Engine{policy: policy}
}

// Policy returns the configured validation policy.
func (e *Engine) Policy() ValidationPolicy {
	return e.policy
}

// DeriveState folds the ordered event list into the current lifecycle
// state. Only ACTIVE events count. Events before the latest upload event
// belong to a closed segment: replacing the file opens a fresh one.
func (e *Engine) DeriveState(doc *models.Document) State {
	if doc == nil {
		return StateDraft
	}
	events := doc.Events
	segStart := latestIndex(events, models.FamilyUpload)

	lastValidated := latestIndexAfter(events, models.FamilyValidated, segStart)
	lastChange := latestIndexAfter(events, models.FamilyChangeRequest, segStart)
	lastRequest := latestIndexAfter(events, models.FamilyValidationRequest, segStart)

	switch {
	case lastChange >= 0 && lastChange > lastValidated:
		return StateChangeRequested
	case lastValidated >= 0:
		if e.validationSatisfied(events, segStart, lastChange) {
			return StateValidated
		}
		return StateValidationRequested
	case lastRequest >= 0:
		return StateValidationRequested
	default:
		return StateDraft
	}
}

// validationSatisfied applies the configured policy to the current
// segment. Under unanimity every distinct outstanding (role, unit) target
// must be covered by a distinct responding validator.
func (e *Engine) validationSatisfied(events []models.Event, segStart, lastChange int) bool {
	if e.policy != PolicyUnanimous {
		return true
	}
	targets := make(map[string]struct{})
	validators := make(map[string]struct{})
	for i := segStart + 1; i < len(events); i++ {
		ev := events[i]
		if !ev.IsActive() {
			continue
		}
		switch ev.Verb.Family() {
		case models.FamilyValidationRequest:
			if req := ev.Payload.ValidationRequest; req != nil {
				targets[string(req.ReceiverRole)+"|"+req.ReceiverUnit] = struct{}{}
			}
		case models.FamilyValidated:
			if i > lastChange {
				validators[ev.ActorID] = struct{}{}
			}
		}
	}
	return len(validators) >= len(targets)
}

// PermittedActions computes the controls available to the actor. A closed
// or splitting referral permits nothing; a pending change request blocks
// replacement but not validation requests.
func (e *Engine) PermittedActions(doc *models.Document, referral *models.Referral, actor Actor) ActionSet {
	actions := make(ActionSet, len(allActions))
	if !referral.IsOpen() {
		return actions
	}
	actions[ActionRequestValidation] = struct{}{}
	if actor.Granted {
		actions[ActionRequestChange] = struct{}{}
		actions[ActionValidate] = struct{}{}
	}
	if !IsChangeRequested(doc) {
		actions[ActionReplace] = struct{}{}
	}
	return actions
}

// EnsureAllowed rejects a verb not permitted from the derived state. This
// is a defensive check: the UI is expected to gate controls with
// PermittedActions, so a failure here indicates a stale or buggy caller.
func (e *Engine) EnsureAllowed(doc *models.Document, referral *models.Referral, actor Actor, action Action) error {
	if !referral.IsOpen() {
		return appErrors.Clone(appErrors.ErrStaleReferral, fmt.Sprintf("referral %s is %s", referral.ID, strings.ToLower(string(referral.State))))
	}
	if e.PermittedActions(doc, referral, actor).Contains(action) {
		return nil
	}
	state := e.DeriveState(doc)
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("%s not permitted in state %s", action, state))
}

// IsChangeRequested reports whether the most recent ACTIVE change request
// postdates the most recent upload event. Replacing the file (a fresh
// upload event) resets it.
func IsChangeRequested(doc *models.Document) bool {
	if doc == nil {
		return false
	}
	upload := latestIndex(doc.Events, models.FamilyUpload)
	change := latestIndex(doc.Events, models.FamilyChangeRequest)
	return change > upload
}

// HasUserValidated reports whether the user has an ACTIVE validated event
// on the document, independent of other actors.
func HasUserValidated(doc *models.Document, userID string) bool {
	if doc == nil {
		return false
	}
	for _, ev := range doc.Events {
		if ev.IsActive() && ev.ActorID == userID && ev.Verb.Family() == models.FamilyValidated {
			return true
		}
	}
	return false
}

// HasUserRequestedChange reports whether the user's latest ACTIVE change
// request is still part of the current segment.
func HasUserRequestedChange(doc *models.Document, userID string) bool {
	if doc == nil {
		return false
	}
	upload := latestIndex(doc.Events, models.FamilyUpload)
	for i := len(doc.Events) - 1; i > upload; i-- {
		ev := doc.Events[i]
		if ev.IsActive() && ev.ActorID == userID && ev.Verb.Family() == models.FamilyChangeRequest {
			return true
		}
	}
	return false
}

// PendingTargets collects the (role, unit) targets the user has ACTIVE
// validation requests for in the current segment. The resolver uses it to
// suppress duplicate requests.
func PendingTargets(doc *models.Document, userID string) map[ValidationTarget]struct{} {
	pending := make(map[ValidationTarget]struct{})
	if doc == nil {
		return pending
	}
	upload := latestIndex(doc.Events, models.FamilyUpload)
	for i := upload + 1; i < len(doc.Events); i++ {
		ev := doc.Events[i]
		if !ev.IsActive() || ev.ActorID != userID || ev.Verb.Family() != models.FamilyValidationRequest {
			continue
		}
		if req := ev.Payload.ValidationRequest; req != nil {
			pending[ValidationTarget{Role: req.ReceiverRole, Unit: req.ReceiverUnit}] = struct{}{}
		}
	}
	return pending
}

// latestIndex returns the index of the most recent ACTIVE event of the
// family, or -1.
func latestIndex(events []models.Event, family models.EventFamily) int {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IsActive() && events[i].Verb.Family() == family {
			return i
		}
	}
	return -1
}

// latestIndexAfter is latestIndex restricted to indexes beyond start.
func latestIndexAfter(events []models.Event, family models.EventFamily, start int) int {
	for i := len(events) - 1; i > start; i-- {
		if events[i].IsActive() && events[i].Verb.Family() == family {
			return i
		}
	}
	return -1
}
