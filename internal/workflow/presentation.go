package workflow

import "github.com/noah-isme/referral-portal-api/internal/models"

// Badge is the style contract the front end renders for a derived state.
type Badge struct {
	Label string `json:"label"`
	Class string `json:"class"`
}

// StateBadge maps a derived state to its badge text and style class.
func StateBadge(state State) Badge {
	switch state {
	case StateValidationRequested:
		return Badge{Label: "Validation requested", Class: "badge-warning"}
	case StateChangeRequested:
		return Badge{Label: "Changes requested", Class: "badge-danger"}
	case StateValidated:
		return Badge{Label: "Validated", Class: "badge-success"}
	default:
		return Badge{Label: "Draft", Class: "badge-secondary"}
	}
}

// ActionView tells the front end whether a control is enabled and, when
// disabled, the reason to surface.
type ActionView struct {
	Action         Action `json:"action"`
	Enabled        bool   `json:"enabled"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

// DescribeActions renders all workflow controls for the actor in fixed
// order, with disabled reasons for the gated ones.
func DescribeActions(engine *Engine, doc *models.Document, referral *models.Referral, actor Actor) []ActionView {
	permitted := engine.PermittedActions(doc, referral, actor)
	views := make([]ActionView, 0, len(allActions))
	for _, action := range allActions {
		view := ActionView{Action: action, Enabled: permitted.Contains(action)}
		if !view.Enabled {
			view.DisabledReason = disabledReason(action, doc, referral, actor)
		}
		views = append(views, view)
	}
	return views
}

func disabledReason(action Action, doc *models.Document, referral *models.Referral, actor Actor) string {
	if !referral.IsOpen() {
		return "referral is not open"
	}
	switch action {
	case ActionReplace:
		if IsChangeRequested(doc) {
			return "replacement is blocked while changes are requested"
		}
	case ActionRequestChange, ActionValidate:
		if !actor.Granted {
			return "requires organizer permission on the referral"
		}
	}
	return "action not available"
}
