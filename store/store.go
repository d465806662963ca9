package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/internal/profile"
)

// ErrNotFound is returned when a lookup or targeted write matches no row.
var ErrNotFound = errors.New("not found")

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) CreatePatient(ctx context.Context, create *Patient) (*Patient, error) {
	return s.driver.CreatePatient(ctx, create)
}

func (s *Store) ListPatients(ctx context.Context, find *FindPatient) ([]*Patient, error) {
	return s.driver.ListPatients(ctx, find)
}

// GetPatient returns the single patient matching find, or ErrNotFound.
func (s *Store) GetPatient(ctx context.Context, find *FindPatient) (*Patient, error) {
	list, err := s.driver.ListPatients(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdatePatient(ctx context.Context, update *UpdatePatient) (*Patient, error) {
	return s.driver.UpdatePatient(ctx, update)
}

func (s *Store) DeletePatient(ctx context.Context, delete *DeletePatient) error {
	return s.driver.DeletePatient(ctx, delete)
}

func (s *Store) CreateMedication(ctx context.Context, create *Medication) (*Medication, error) {
	return s.driver.CreateMedication(ctx, create)
}

func (s *Store) ListMedications(ctx context.Context, find *FindMedication) ([]*Medication, error) {
	return s.driver.ListMedications(ctx, find)
}

func (s *Store) UpdateMedication(ctx context.Context, update *UpdateMedication) (*Medication, error) {
	return s.driver.UpdateMedication(ctx, update)
}

func (s *Store) DeleteMedication(ctx context.Context, delete *DeleteMedication) error {
	return s.driver.DeleteMedication(ctx, delete)
}

func (s *Store) CreateReminder(ctx context.Context, create *Reminder) (*Reminder, error) {
	return s.driver.CreateReminder(ctx, create)
}

func (s *Store) ListReminders(ctx context.Context, find *FindReminder) ([]*Reminder, error) {
	return s.driver.ListReminders(ctx, find)
}

func (s *Store) DeleteReminder(ctx context.Context, delete *DeleteReminder) error {
	return s.driver.DeleteReminder(ctx, delete)
}

func (s *Store) CreateHealthRecord(ctx context.Context, create *HealthRecord) (*HealthRecord, error) {
	return s.driver.CreateHealthRecord(ctx, create)
}

func (s *Store) ListHealthRecords(ctx context.Context, find *FindHealthRecord) ([]*HealthRecord, error) {
	return s.driver.ListHealthRecords(ctx, find)
}

func (s *Store) UpdateHealthRecord(ctx context.Context, update *UpdateHealthRecord) (*HealthRecord, error) {
	return s.driver.UpdateHealthRecord(ctx, update)
}

func (s *Store) DeleteHealthRecord(ctx context.Context, delete *DeleteHealthRecord) error {
	return s.driver.DeleteHealthRecord(ctx, delete)
}

func (s *Store) CreateConversationLog(ctx context.Context, create *ConversationLog) (*ConversationLog, error) {
	return s.driver.CreateConversationLog(ctx, create)
}

func (s *Store) ListConversationLogs(ctx context.Context, find *FindConversationLog) ([]*ConversationLog, error) {
	return s.driver.ListConversationLogs(ctx, find)
}

func (s *Store) CreateAlertRecord(ctx context.Context, create *AlertRecord) (*AlertRecord, error) {
	return s.driver.CreateAlertRecord(ctx, create)
}

func (s *Store) ListAlertRecords(ctx context.Context, find *FindAlertRecord) ([]*AlertRecord, error) {
	return s.driver.ListAlertRecords(ctx, find)
}
