package conversation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hrygo/caresense/store"
)

// StoreSource reads snapshots from the persistence store.
type StoreSource struct {
	store *store.Store
	now   func() time.Time
}

// NewStoreSource adapts st to SnapshotSource.
func NewStoreSource(st *store.Store) *StoreSource {
	return &StoreSource{store: st, now: time.Now}
}

func (s *StoreSource) GetPatientProfile(ctx context.Context, patientID string) (*PatientProfile, error) {
	p, err := s.store.GetPatient(ctx, &store.FindPatient{UID: &patientID})
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", patientID, err)
	}
	profile := &PatientProfile{
		ID:         p.UID,
		Name:       p.Name,
		BirthYear:  int(p.BirthYear),
		Conditions: p.Conditions,
	}
	for _, c := range p.Caregivers {
		profile.Caregivers = append(profile.Caregivers, Contact{Name: c.Name, Recipient: c.Recipient, Channel: c.Channel})
	}
	return profile, nil
}

func (s *StoreSource) ListActiveMedications(ctx context.Context, patientID string) ([]Medication, error) {
	active := true
	list, err := s.store.ListMedications(ctx, &store.FindMedication{PatientUID: &patientID, Active: &active})
	if err != nil {
		return nil, err
	}
	out := make([]Medication, 0, len(list))
	for _, m := range list {
		out = append(out, Medication{Name: m.Name, Dosage: m.Dosage, Schedule: m.Schedule})
	}
	return out, nil
}

func (s *StoreSource) ListUpcomingReminders(ctx context.Context, patientID string, limit int) ([]Reminder, error) {
	now := s.now().Unix()
	list, err := s.store.ListReminders(ctx, &store.FindReminder{PatientUID: &patientID, DueAfter: &now, Limit: &limit})
	if err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, len(list))
	for _, r := range list {
		out = append(out, Reminder{Title: r.Title, DueAt: time.Unix(r.DueTs, 0), Repeat: r.Repeat})
	}
	return out, nil
}

func (s *StoreSource) ListRecentActivities(ctx context.Context, patientID string, limit int) ([]Activity, error) {
	list, err := s.store.ListHealthRecords(ctx, &store.FindHealthRecord{PatientUID: &patientID, Limit: &limit})
	if err != nil {
		return nil, err
	}
	out := make([]Activity, 0, len(list))
	for _, r := range list {
		out = append(out, Activity{Category: r.Category, Data: r.Data, CreatedAt: time.Unix(r.CreatedTs, 0)})
	}
	return out, nil
}

// ListRecentTurns returns history oldest first.
func (s *StoreSource) ListRecentTurns(ctx context.Context, patientID, sessionID string, limit int) ([]Turn, error) {
	find := &store.FindConversationLog{PatientUID: &patientID, Limit: &limit}
	if sessionID != "" {
		find.SessionID = &sessionID
	}
	list, err := s.store.ListConversationLogs(ctx, find)
	if err != nil {
		return nil, err
	}
	out := make([]Turn, 0, len(list))
	for _, l := range list {
		out = append(out, Turn{Role: l.Role, Content: l.Content, CreatedAt: time.Unix(l.CreatedTs, 0)})
	}
	slices.Reverse(out)
	return out, nil
}
