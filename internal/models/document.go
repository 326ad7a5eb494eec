package models

import "time"

// DocumentKind discriminates versions from appendices. The two kinds are
// numbered independently within a report.
type DocumentKind string

const (
	DocumentKindVersion  DocumentKind = "VERSION"
	DocumentKindAppendix DocumentKind = "APPENDIX"
)

// ValidatedVerb returns the response verb recorded when a granted user
// validates a document of this kind.
func (k DocumentKind) ValidatedVerb() EventVerb {
	if k == DocumentKindAppendix {
		return VerbAppendixValidated
	}
	return VerbVersionValidated
}

// RequestValidationVerb returns the verb recorded per validation target.
func (k DocumentKind) RequestValidationVerb() EventVerb {
	if k == DocumentKindAppendix {
		return VerbAppendixRequestValidation
	}
	return VerbRequestValidation
}

// RequestChangeVerb returns the verb recorded for a change request.
func (k DocumentKind) RequestChangeVerb() EventVerb {
	if k == DocumentKindAppendix {
		return VerbAppendixRequestChange
	}
	return VerbRequestChange
}

// Document is a version or appendix attached to a report. Replacement
// keeps the identity and ordinal: only the file reference changes and a
// fresh upload event opens a new history segment.
type Document struct {
	ID        string       `db:"id" json:"id"`
	ReportID  string       `db:"report_id" json:"report_id"`
	Kind      DocumentKind `db:"kind" json:"kind"`
	Ordinal   int          `db:"ordinal" json:"ordinal"`
	FileName  string       `db:"file_name" json:"file_name"`
	FilePath  string       `db:"file_path" json:"-"`
	MimeType  string       `db:"mime_type" json:"mime_type"`
	FileSize  int64        `db:"file_size" json:"file_size"`
	CreatedBy string       `db:"created_by" json:"created_by"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time   `db:"deleted_at" json:"-"`

	Events []Event `db:"-" json:"events,omitempty"`
}

// ActiveEvents returns the subsequence of events still counting for
// derivation, in append order.
func (d *Document) ActiveEvents() []Event {
	active := make([]Event, 0, len(d.Events))
	for _, ev := range d.Events {
		if ev.IsActive() {
			active = append(active, ev)
		}
	}
	return active
}
