package dto

import (
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
)

// ValidationTargetInput is one selected (role, unit) recipient.
type ValidationTargetInput struct {
	Role string `json:"role" binding:"required,oneof=OWNER ADMIN SUPERADMIN" validate:"required,oneof=OWNER ADMIN SUPERADMIN"`
	Unit string `json:"unit" binding:"required" validate:"required"`
}

// SubmitValidationRequest fans one user action out to several targets.
// An empty target list is rejected before any repository access.
type SubmitValidationRequest struct {
	Targets []ValidationTargetInput `json:"targets"`
	Comment string                  `json:"comment,omitempty" binding:"max=2000" validate:"max=2000"`
}

// SubmitValidationResponse records a validator's decision.
type SubmitValidationResponse struct {
	Verb    string `json:"verb" binding:"required,oneof=VALIDATE REQUEST_CHANGE" validate:"required,oneof=VALIDATE REQUEST_CHANGE"`
	Comment string `json:"comment,omitempty" binding:"max=2000" validate:"max=2000"`
}

// ValidationOutcome bundles the refreshed report and the referral's new
// validation state so the caller never sees a partial refresh.
type ValidationOutcome struct {
	Report          *ReportView                    `json:"report"`
	ValidationState models.ReferralValidationState `json:"referral_validation_state"`
}

// ValidatorsResponse is the resolver output for the request-validation
// dropdown.
type ValidatorsResponse struct {
	DocumentID string                    `json:"document_id"`
	Groups     []workflow.ValidatorGroup `json:"groups"`
}
