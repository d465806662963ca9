package store

// HealthRecord is one canonical per-category record (vitals, medication, water...).
// Data holds the category fields produced by the action resolver's field mapping.
type HealthRecord struct {
	UID        string
	PatientUID string
	Category   string
	Data       map[string]any
	Source     string // channel the record came from
	CreatorID  string // sender id
	CreatedTs  int64
	UpdatedTs  int64
	ID         int32
}

type FindHealthRecord struct {
	ID           *int32
	UID          *string
	PatientUID   *string
	Category     *string
	CreatedAfter *int64
	Limit        *int
}

// UpdateHealthRecord replaces the data of the record identified by UID.
// PatientUID scopes the write so one patient can never touch another's records.
type UpdateHealthRecord struct {
	UID        string
	PatientUID string
	Category   *string
	Data       map[string]any
	UpdatedTs  *int64
}

type DeleteHealthRecord struct {
	UID        string
	PatientUID string
}

// ConversationLog is one turn of a conversation, appended after the reply is computed.
type ConversationLog struct {
	PatientUID string
	SessionID  string
	SenderID   string
	Role       string // user | assistant
	Content    string
	Intent     string
	TraceID    string
	CreatedTs  int64
	ID         int32
}

type FindConversationLog struct {
	PatientUID *string
	SessionID  *string
	Limit      *int
}

// AlertRecord is a fired emergency alert.
type AlertRecord struct {
	UID        string
	PatientUID string
	Trigger    string
	Severity   string
	Message    string
	TraceID    string
	Recipients []string
	CreatedTs  int64
	ID         int32
}

type FindAlertRecord struct {
	PatientUID *string
	Limit      *int
}
