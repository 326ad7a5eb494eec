package models

import "time"

// ReferralState enumerates the lifecycle of a referral case.
type ReferralState string

const (
	ReferralStateOpen      ReferralState = "OPEN"
	ReferralStateClosed    ReferralState = "CLOSED"
	ReferralStateSplitting ReferralState = "SPLITTING"
)

// ReferralValidationState summarises review progress across the referral's reports.
type ReferralValidationState string

const (
	ReferralValidationPending   ReferralValidationState = "PENDING"
	ReferralValidationInReview  ReferralValidationState = "IN_REVIEW"
	ReferralValidationValidated ReferralValidationState = "VALIDATED"
)

// Referral is the case file owning reports and organizational units.
type Referral struct {
	ID              string                  `db:"id" json:"id"`
	Reference       string                  `db:"reference" json:"reference"`
	Title           string                  `db:"title" json:"title"`
	State           ReferralState           `db:"state" json:"state"`
	ValidationState ReferralValidationState `db:"validation_state" json:"validation_state"`
	CreatedAt       time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time               `db:"updated_at" json:"updated_at"`

	Units []Unit `db:"-" json:"units,omitempty"`
}

// IsOpen reports whether workflow actions are permitted. A splitting
// referral is treated as not open: its documents are frozen until the
// split completes.
func (r *Referral) IsOpen() bool {
	return r != nil && r.State == ReferralStateOpen
}
