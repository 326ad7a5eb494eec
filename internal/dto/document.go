package dto

import (
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
)

// UploadDocumentRequest carries multipart metadata for a new version or
// appendix; the file arrives as the "file" form field.
type UploadDocumentRequest struct {
	Kind string `form:"kind" binding:"required,oneof=VERSION APPENDIX"`
}

// DocumentView decorates a document with its derived workflow state for
// the presentation layer.
type DocumentView struct {
	models.Document
	State      workflow.State        `json:"state"`
	Badge      workflow.Badge        `json:"badge"`
	Actions    []workflow.ActionView `json:"actions"`
	Validated  bool                  `json:"has_validated"`
	ChangeOpen bool                  `json:"is_change_requested"`
}

// ReportView is the full report payload returned to the portal, every
// document decorated for the calling user.
type ReportView struct {
	Report          models.Report                  `json:"report"`
	Versions        []DocumentView                 `json:"versions"`
	Appendices      []DocumentView                 `json:"appendices"`
	ReferralState   models.ReferralState           `json:"referral_state"`
	ValidationState models.ReferralValidationState `json:"referral_validation_state"`
}
