package models

import "time"

// Report is a unit of work product within a referral. It carries the
// documents under review plus loose attachments outside the workflow.
type Report struct {
	ID         string    `db:"id" json:"id"`
	ReferralID string    `db:"referral_id" json:"referral_id"`
	Title      string    `db:"title" json:"title"`
	CreatedBy  string    `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Versions    []Document   `db:"-" json:"versions,omitempty"`
	Appendices  []Document   `db:"-" json:"appendices,omitempty"`
	Attachments []Attachment `db:"-" json:"attachments,omitempty"`
}

// Attachment is a plain file on a report, outside the review workflow.
type Attachment struct {
	ID        string    `db:"id" json:"id"`
	ReportID  string    `db:"report_id" json:"report_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	FilePath  string    `db:"file_path" json:"-"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
