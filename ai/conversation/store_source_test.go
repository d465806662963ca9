package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/internal/profile"
	"github.com/hrygo/caresense/store"
	"github.com/hrygo/caresense/store/db/sqlite"
)

func TestStoreSource_BuildsContext(t *testing.T) {
	ctx := context.Background()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ctx.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	_, err = st.CreatePatient(ctx, &store.Patient{
		UID:        "p1",
		Name:       "Grandma Li",
		Caregivers: []store.Caregiver{{Name: "Wei", Recipient: "42", Channel: "telegram"}},
	})
	require.NoError(t, err)
	_, err = st.CreateMedication(ctx, &store.Medication{PatientUID: "p1", Name: "Metformin", Active: true})
	require.NoError(t, err)
	_, err = st.CreateReminder(ctx, &store.Reminder{PatientUID: "p1", Title: "Check BP", DueTs: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	_, err = st.CreateHealthRecord(ctx, &store.HealthRecord{UID: "r1", PatientUID: "p1", Category: "water", Data: map[string]any{"amount_ml": 300.0}})
	require.NoError(t, err)
	for i, role := range []string{"user", "assistant"} {
		_, err = st.CreateConversationLog(ctx, &store.ConversationLog{PatientUID: "p1", SessionID: "s1", Role: role, Content: role, CreatedTs: int64(i + 1)})
		require.NoError(t, err)
	}

	b := NewBuilder(NewStoreSource(st), BuilderConfig{})
	pc := b.Build(ctx, &Message{ID: "m1", Content: "hi", Context: MessageContext{PatientID: "p1", SessionID: "s1"}})

	assert.Empty(t, pc.SnapshotErrs)
	require.NotNil(t, pc.Patient)
	assert.Equal(t, "Grandma Li", pc.Patient.Name)
	require.Len(t, pc.Patient.Caregivers, 1)
	assert.Equal(t, "42", pc.Patient.Caregivers[0].Recipient)
	assert.Len(t, pc.Medications, 1)
	assert.Len(t, pc.Reminders, 1)
	require.Len(t, pc.Activities, 1)
	assert.Equal(t, "water", pc.Activities[0].Category)
	require.Len(t, pc.History, 2)
	assert.Equal(t, "user", pc.History[0].Role, "history is oldest first")

	missing := b.Build(ctx, &Message{ID: "m2", Content: "hi", Context: MessageContext{PatientID: "nobody"}})
	assert.Nil(t, missing.Patient)
	assert.Len(t, missing.SnapshotErrs, 1)
}
