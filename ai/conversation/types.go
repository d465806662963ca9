// Package conversation defines the inbound message model and the per-message
// processing context shared by the routing, orchestration and action packages.
package conversation

import (
	"maps"
	"strings"
	"time"
)

// Source is the channel an inbound message arrived on.
type Source string

const (
	SourceDirect     Source = "direct"
	SourceAPI        Source = "api"
	SourceAutomation Source = "automation"
	SourceSystem     Source = "system"
	SourceGroup      Source = "group"
	SourceVoice      Source = "voice"
)

// ParseSource maps a raw channel name to a Source, defaulting to SourceAPI.
func ParseSource(s string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceDirect:
		return SourceDirect
	case SourceAutomation:
		return SourceAutomation
	case SourceSystem:
		return SourceSystem
	case SourceGroup:
		return SourceGroup
	case SourceVoice:
		return SourceVoice
	default:
		return SourceAPI
	}
}

// MessageContext carries sender attribution for a message.
type MessageContext struct {
	SenderID  string    `json:"sender_id"`
	PatientID string    `json:"patient_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Source    Source    `json:"source"`

	// Group attribution: set when a group message was sent on behalf of an actor.
	GroupID   string `json:"group_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`

	VoiceConfirmed bool `json:"voice_confirmed,omitempty"`
}

// Message is one inbound chat message. Treat it as immutable once created;
// use WithMetadata to derive an enriched copy.
type Message struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Context  MessageContext `json:"context"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HasPatient reports whether the message is attributed to a patient.
func (m *Message) HasPatient() bool {
	return strings.TrimSpace(m.Context.PatientID) != ""
}

// IsAttributedGroupMessage reports whether a group message names its actor.
func (m *Message) IsAttributedGroupMessage() bool {
	return m.Context.Source == SourceGroup && m.Context.GroupID != "" &&
		(m.Context.ActorID != "" || m.Context.ActorName != "")
}

// AttributedContent returns the content prefixed with the actor name for
// attributed group messages, so prompts know who is speaking.
func (m *Message) AttributedContent() string {
	if m.IsAttributedGroupMessage() && m.Context.ActorName != "" {
		return m.Context.ActorName + ": " + m.Content
	}
	return m.Content
}

// MetadataBool reads a boolean metadata flag, accepting "true" strings.
func (m *Message) MetadataBool(key string) bool {
	switch v := m.Metadata[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// WithMetadata returns a copy of the message whose metadata is the deep copy of
// the original merged with extra. The receiver is left untouched.
func (m *Message) WithMetadata(extra map[string]any) *Message {
	cp := *m
	cp.Metadata = deepCopyMap(m.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		cp.Metadata[k] = deepCopyValue(v)
	}
	return &cp
}

// PatientProfile is the snapshot of a patient used to ground replies and alerts.
type PatientProfile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	BirthYear  int       `json:"birth_year,omitempty"`
	Conditions []string  `json:"conditions,omitempty"`
	Caregivers []Contact `json:"caregivers,omitempty"`
}

// Contact is an alert recipient reachable through the delivery gateway.
type Contact struct {
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
	Channel   string `json:"channel,omitempty"`
}

// Medication is an active medication on the patient's plan.
type Medication struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// Reminder is a scheduled caregiver reminder.
type Reminder struct {
	Title  string    `json:"title"`
	DueAt  time.Time `json:"due_at"`
	Repeat string    `json:"repeat,omitempty"`
}

// Activity is a recent health record, summarised for prompts.
type Activity struct {
	Category  string         `json:"category"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Turn is one entry of short conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessingContext is the message plus the snapshots loaded for it.
// It is built fresh per message and never mutated after Build returns.
type ProcessingContext struct {
	Message      *Message        `json:"message"`
	Patient      *PatientProfile `json:"patient,omitempty"`
	Medications  []Medication    `json:"medications,omitempty"`
	Reminders    []Reminder      `json:"reminders,omitempty"`
	Activities   []Activity      `json:"activities,omitempty"`
	History      []Turn          `json:"history,omitempty"`
	BuiltAt      time.Time       `json:"built_at"`
	SnapshotErrs []string        `json:"snapshot_errors,omitempty"`
}

// Enrich returns a copy of the context whose message metadata carries extra.
// Snapshots are shared read-only; only the message is copied.
func (pc *ProcessingContext) Enrich(extra map[string]any) *ProcessingContext {
	cp := *pc
	cp.Message = pc.Message.WithMetadata(extra)
	return &cp
}

// PatientID is a shortcut for the message patient id.
func (pc *ProcessingContext) PatientID() string {
	return pc.Message.Context.PatientID
}

// PatientName returns the profile name, or empty when no profile was loaded.
func (pc *ProcessingContext) PatientName() string {
	if pc.Patient == nil {
		return ""
	}
	return pc.Patient.Name
}

func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case map[string]string:
		return maps.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopyValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
