package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema. It is idempotent.
	Migrate(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)

	// Patient model related methods.
	CreatePatient(ctx context.Context, create *Patient) (*Patient, error)
	ListPatients(ctx context.Context, find *FindPatient) ([]*Patient, error)
	UpdatePatient(ctx context.Context, update *UpdatePatient) (*Patient, error)
	DeletePatient(ctx context.Context, delete *DeletePatient) error

	// Medication model related methods.
	CreateMedication(ctx context.Context, create *Medication) (*Medication, error)
	ListMedications(ctx context.Context, find *FindMedication) ([]*Medication, error)
	UpdateMedication(ctx context.Context, update *UpdateMedication) (*Medication, error)
	DeleteMedication(ctx context.Context, delete *DeleteMedication) error

	// Reminder model related methods.
	CreateReminder(ctx context.Context, create *Reminder) (*Reminder, error)
	ListReminders(ctx context.Context, find *FindReminder) ([]*Reminder, error)
	DeleteReminder(ctx context.Context, delete *DeleteReminder) error

	// HealthRecord model related methods.
	CreateHealthRecord(ctx context.Context, create *HealthRecord) (*HealthRecord, error)
	ListHealthRecords(ctx context.Context, find *FindHealthRecord) ([]*HealthRecord, error)
	UpdateHealthRecord(ctx context.Context, update *UpdateHealthRecord) (*HealthRecord, error)
	DeleteHealthRecord(ctx context.Context, delete *DeleteHealthRecord) error

	// ConversationLog model related methods.
	CreateConversationLog(ctx context.Context, create *ConversationLog) (*ConversationLog, error)
	ListConversationLogs(ctx context.Context, find *FindConversationLog) ([]*ConversationLog, error)

	// AlertRecord model related methods.
	CreateAlertRecord(ctx context.Context, create *AlertRecord) (*AlertRecord, error)
	ListAlertRecords(ctx context.Context, find *FindAlertRecord) ([]*AlertRecord, error)
}
