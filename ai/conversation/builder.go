package conversation

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotSource reads the patient snapshots a ProcessingContext is built from.
// store.Store satisfies it.
type SnapshotSource interface {
	GetPatientProfile(ctx context.Context, patientID string) (*PatientProfile, error)
	ListActiveMedications(ctx context.Context, patientID string) ([]Medication, error)
	ListUpcomingReminders(ctx context.Context, patientID string, limit int) ([]Reminder, error)
	ListRecentActivities(ctx context.Context, patientID string, limit int) ([]Activity, error)
	ListRecentTurns(ctx context.Context, patientID, sessionID string, limit int) ([]Turn, error)
}

// BuilderConfig bounds the snapshot sizes.
type BuilderConfig struct {
	HistoryLimit  int
	ActivityLimit int
	ReminderLimit int
}

// DefaultBuilderConfig returns the limits used in production.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		HistoryLimit:  10,
		ActivityLimit: 20,
		ReminderLimit: 5,
	}
}

// Builder merges a message with patient snapshots into a ProcessingContext.
type Builder struct {
	source SnapshotSource
	config BuilderConfig
	now    func() time.Time
}

// NewBuilder creates a context builder. A nil source yields contexts without snapshots.
func NewBuilder(source SnapshotSource, cfg BuilderConfig) *Builder {
	def := DefaultBuilderConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = def.ActivityLimit
	}
	if cfg.ReminderLimit <= 0 {
		cfg.ReminderLimit = def.ReminderLimit
	}
	return &Builder{source: source, config: cfg, now: time.Now}
}

// Build loads the snapshots for msg. Snapshot read failures are logged and
// recorded on the context; they never fail the build.
func (b *Builder) Build(ctx context.Context, msg *Message) *ProcessingContext {
	normalized := normalizeMessage(msg, b.now())
	pc := &ProcessingContext{
		Message: normalized,
		BuiltAt: b.now(),
	}
	if b.source == nil || !normalized.HasPatient() {
		return pc
	}

	patientID := normalized.Context.PatientID
	note := func(what string, err error) {
		slog.Warn("context builder: snapshot read failed",
			"snapshot", what,
			"patient_id", patientID,
			"error", err)
		pc.SnapshotErrs = append(pc.SnapshotErrs, what+": "+err.Error())
	}

	if profile, err := b.source.GetPatientProfile(ctx, patientID); err != nil {
		note("patient", err)
	} else {
		pc.Patient = profile
	}
	if meds, err := b.source.ListActiveMedications(ctx, patientID); err != nil {
		note("medications", err)
	} else {
		pc.Medications = meds
	}
	if reminders, err := b.source.ListUpcomingReminders(ctx, patientID, b.config.ReminderLimit); err != nil {
		note("reminders", err)
	} else {
		pc.Reminders = reminders
	}
	if activities, err := b.source.ListRecentActivities(ctx, patientID, b.config.ActivityLimit); err != nil {
		note("activities", err)
	} else {
		pc.Activities = activities
	}
	if turns, err := b.source.ListRecentTurns(ctx, patientID, normalized.Context.SessionID, b.config.HistoryLimit); err != nil {
		note("history", err)
	} else {
		pc.History = turns
	}

	return pc
}

// normalizeMessage returns a copy with creation time and source defaulted.
// Group attribution is dropped for non-group sources.
func normalizeMessage(msg *Message, now time.Time) *Message {
	cp := msg.WithMetadata(nil)
	if cp.Context.CreatedAt.IsZero() {
		cp.Context.CreatedAt = now
	}
	if cp.Context.Source == "" {
		cp.Context.Source = SourceAPI
	}
	if cp.Context.Source != SourceGroup {
		cp.Context.GroupID = ""
		cp.Context.ActorID = ""
		cp.Context.ActorName = ""
	}
	return cp
}
