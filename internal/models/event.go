package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventVerb identifies the lifecycle action recorded by an event.
type EventVerb string

const (
	VerbVersionAdded              EventVerb = "VERSION_ADDED"
	VerbVersionUpdated            EventVerb = "VERSION_UPDATED"
	VerbVersionValidated          EventVerb = "VERSION_VALIDATED"
	VerbRequestValidation         EventVerb = "REQUEST_VALIDATION"
	VerbRequestChange             EventVerb = "REQUEST_CHANGE"
	VerbAppendixValidated         EventVerb = "APPENDIX_VALIDATED"
	VerbAppendixRequestValidation EventVerb = "APPENDIX_REQUEST_VALIDATION"
	VerbAppendixRequestChange     EventVerb = "APPENDIX_REQUEST_CHANGE"
)

// EventFamily groups verbs that the state derivation treats alike. Version
// and appendix verbs of the same intent fold into one family.
type EventFamily string

const (
	FamilyUpload            EventFamily = "UPLOAD"
	FamilyValidationRequest EventFamily = "VALIDATION_REQUEST"
	FamilyChangeRequest     EventFamily = "CHANGE_REQUEST"
	FamilyValidated         EventFamily = "VALIDATED"
)

// Family maps a verb onto its derivation family.
func (v EventVerb) Family() EventFamily {
	switch v {
	case VerbVersionAdded, VerbVersionUpdated:
		return FamilyUpload
	case VerbRequestValidation, VerbAppendixRequestValidation:
		return FamilyValidationRequest
	case VerbRequestChange, VerbAppendixRequestChange:
		return FamilyChangeRequest
	case VerbVersionValidated, VerbAppendixValidated:
		return FamilyValidated
	}
	return ""
}

// EventState is the lifecycle tag stored on an event row. Rows are never
// updated: a non-ACTIVE tag can only be written at append time (e.g. when
// importing superseded history).
type EventState string

const (
	EventStateActive   EventState = "ACTIVE"
	EventStateInactive EventState = "INACTIVE"
	EventStateObsolete EventState = "OBSOLETE"
)

// Event is an immutable audit record of one lifecycle action on a document.
type Event struct {
	ID         string       `db:"id" json:"id"`
	DocumentID string       `db:"document_id" json:"document_id"`
	Seq        int64        `db:"seq" json:"seq"`
	Verb       EventVerb    `db:"verb" json:"verb"`
	ActorID    string       `db:"actor_id" json:"actor_id"`
	ActorName  string       `db:"actor_name" json:"actor_name"`
	State      EventState   `db:"state" json:"state"`
	Payload    EventPayload `db:"payload" json:"payload"`
	RecordedAt time.Time    `db:"recorded_at" json:"recorded_at"`
}

// IsActive reports whether the event still counts for state derivation.
func (e *Event) IsActive() bool {
	return e.State == EventStateActive
}

// EventPayload is the verb-specific metadata, a closed union persisted as
// JSONB. Exactly one of the branches is set, matching the verb's family.
type EventPayload struct {
	Upload            *UploadPayload            `json:"upload,omitempty"`
	ValidationRequest *ValidationRequestPayload `json:"validation_request,omitempty"`
	Response          *ResponsePayload          `json:"response,omitempty"`
}

// UploadPayload accompanies VERSION_ADDED / VERSION_UPDATED events.
type UploadPayload struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// ValidationRequestPayload accompanies validation request events. One
// logical request fans out to several targets; RequestID ties the
// resulting events together.
type ValidationRequestPayload struct {
	RequestID    string   `json:"request_id"`
	ReceiverUnit string   `json:"receiver_unit"`
	ReceiverRole UnitRole `json:"receiver_role"`
	Comment      string   `json:"comment,omitempty"`
}

// ResponsePayload accompanies validated and change-request events.
type ResponsePayload struct {
	SenderRole UnitRole `json:"sender_role"`
	Comment    string   `json:"comment,omitempty"`
}

// Value marshals the payload to JSON for persistence.
func (p EventPayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the union struct.
func (p *EventPayload) Scan(value interface{}) error {
	if value == nil {
		*p = EventPayload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for EventPayload", value)
	}
	if len(data) == 0 {
		*p = EventPayload{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal event payload: %w", err)
	}
	return nil
}
