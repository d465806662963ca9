package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/store"
)

// fakeStore is an in-memory Persistence that counts calls.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*store.HealthRecord
	calls   int
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*store.HealthRecord{}}
}

func (f *fakeStore) CreateHealthRecord(_ context.Context, create *store.HealthRecord) (*store.HealthRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	create.ID = int32(len(f.records) + 1)
	f.records[create.UID] = create
	return create, nil
}

func (f *fakeStore) ListHealthRecords(_ context.Context, find *store.FindHealthRecord) ([]*store.HealthRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*store.HealthRecord
	for _, r := range f.records {
		if find.PatientUID != nil && r.PatientUID != *find.PatientUID {
			continue
		}
		if find.Category != nil && r.Category != *find.Category {
			continue
		}
		if find.UID != nil && r.UID != *find.UID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateHealthRecord(_ context.Context, update *store.UpdateHealthRecord) (*store.HealthRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, ok := f.records[update.UID]
	if !ok || r.PatientUID != update.PatientUID {
		return nil, store.ErrNotFound
	}
	r.Data = update.Data
	return r, nil
}

func (f *fakeStore) DeleteHealthRecord(_ context.Context, del *store.DeleteHealthRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, ok := f.records[del.UID]
	if !ok || r.PatientUID != del.PatientUID {
		return store.ErrNotFound
	}
	delete(f.records, del.UID)
	return nil
}

func newExecutor(st Persistence) *Executor {
	e := NewExecutor(st, nil)
	n := 0
	e.newUID = func() string {
		n++
		return fmt.Sprintf("rec-%d", n)
	}
	return e
}

func contextFor(patientID string, metadata map[string]any) *conversation.ProcessingContext {
	return &conversation.ProcessingContext{
		Message: &conversation.Message{
			ID:       "m1",
			Content:  "text",
			Context:  conversation.MessageContext{SenderID: "u1", PatientID: patientID, Source: conversation.SourceAPI},
			Metadata: metadata,
		},
	}
}

func f64(v float64) *float64 { return &v }

func TestResolve_ClarifyHasNoSideEffects(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	pc := contextFor("p1", nil)

	res := nlu.Parse(`{"intent":"health_log","action":"clarify","confidence":0.5,"clarify_question":"How much water?"}`, "she drank some")
	d := Resolve(res, pc)
	require.Equal(t, nlu.ActionClarify, d.Kind)
	assert.Equal(t, "How much water?", d.Question)

	out, err := e.Execute(context.Background(), d, pc)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Zero(t, st.calls)
}

func TestResolve_NoneAndConversational(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)

	res := &nlu.Result{Intent: nlu.IntentGreeting, Action: nlu.ActionSave, Confidence: 0.9}
	d := Resolve(res, contextFor("", nil))
	assert.Equal(t, nlu.ActionNone, d.Kind)

	out, err := e.Execute(context.Background(), d, contextFor("", nil))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Zero(t, st.calls)
}

func TestResolve_MissingPatient(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	pc := contextFor("", nil)

	for _, kind := range []nlu.ActionKind{nlu.ActionSave, nlu.ActionUpdate, nlu.ActionDelete, nlu.ActionQuery} {
		res := &nlu.Result{Intent: nlu.IntentVitalsLog, Action: kind, Confidence: 0.9,
			HealthData: &nlu.HealthData{Systolic: f64(120)}}
		d := Resolve(res, pc)
		assert.Equal(t, nlu.ActionClarify, d.Kind, kind)

		_, err := e.Execute(context.Background(), d, pc)
		require.NoError(t, err)
	}
	assert.Zero(t, st.calls)
}

func TestSave_VitalsRoundTrip(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	pc := contextFor("p1", nil)

	res := nlu.Parse(`{"intent":"vitals_log","action":"save","confidence":0.95,
		"health_data":{"systolic":185,"diastolic":100,"period":"morning"}}`, "BP 185/100 this morning")
	d := Resolve(res, pc)
	require.Equal(t, nlu.ActionSave, d.Kind)
	assert.Equal(t, nlu.CategoryVitals, d.Category)

	out, err := e.Execute(context.Background(), d, pc)
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	require.NotNil(t, out.Record)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, SeverityCritical, out.Alerts[0].Severity)
	assert.Equal(t, "185/100", out.Alerts[0].Value)

	patient := "p1"
	records, err := st.ListHealthRecords(context.Background(), &store.FindHealthRecord{PatientUID: &patient})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(nlu.CategoryVitals), records[0].Category)
	assert.Equal(t, 185.0, records[0].Data["systolic"])
	assert.Equal(t, "morning", records[0].Data["period"])
	assert.Equal(t, "u1", records[0].CreatorID)
}

func TestSave_ExplicitCategoryWins(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	pc := contextFor("p1", nil)

	d := Resolve(&nlu.Result{Intent: nlu.IntentHealthLog, Action: nlu.ActionSave, Confidence: 0.9,
		HealthData: &nlu.HealthData{Type: nlu.CategoryWater, WaterML: f64(300), HeartRate: f64(80)}}, pc)
	out, err := e.Execute(context.Background(), d, pc)
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, string(nlu.CategoryWater), out.Record.Category)
	assert.Equal(t, map[string]any{"amount_ml": 300.0}, out.Record.Data)
}

func TestSave_StoreFailureIsReported(t *testing.T) {
	st := newFakeStore()
	st.err = errors.New("disk full")
	e := newExecutor(st)
	pc := contextFor("p1", nil)

	d := Resolve(&nlu.Result{Intent: nlu.IntentHealthLog, Action: nlu.ActionSave, Confidence: 0.9,
		HealthData: &nlu.HealthData{WaterML: f64(200)}}, pc)
	out, err := e.Execute(context.Background(), d, pc)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "disk full")
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	ctx := context.Background()

	_, err := st.CreateHealthRecord(ctx, &store.HealthRecord{UID: "old", PatientUID: "p1", Category: "water"})
	require.NoError(t, err)
	st.calls = 0

	res := &nlu.Result{Intent: nlu.IntentHealthLog, Action: nlu.ActionDelete, Confidence: 0.95,
		HealthData: &nlu.HealthData{Type: nlu.CategoryWater}}

	pc := contextFor("p1", nil)
	d := Resolve(res, pc)
	require.True(t, d.RequiresConfirmation)
	out, err := e.Execute(ctx, d, pc)
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Equal(t, nlu.ActionConfirm, out.Kind)
	assert.Zero(t, st.calls)

	confirmed := contextFor("p1", map[string]any{"confirmed": "true"})
	out, err = e.Execute(ctx, Resolve(res, confirmed), confirmed)
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	assert.Empty(t, st.records)
}

func TestDelete_WithoutTarget(t *testing.T) {
	d := Resolve(&nlu.Result{Intent: nlu.IntentHealthLog, Action: nlu.ActionDelete, Confidence: 0.95}, contextFor("p1", nil))
	assert.Equal(t, nlu.ActionClarify, d.Kind)
}

func TestUpdate(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	ctx := context.Background()
	_, err := st.CreateHealthRecord(ctx, &store.HealthRecord{UID: "r9", PatientUID: "p1", Category: "vitals"})
	require.NoError(t, err)

	low := &nlu.Result{Intent: nlu.IntentVitalsLog, Action: nlu.ActionUpdate, Confidence: 0.4,
		Entities: map[string]any{"record_id": "r9"}, HealthData: &nlu.HealthData{Systolic: f64(130), Diastolic: f64(85)}}
	pc := contextFor("p1", nil)
	out, err := e.Execute(ctx, Resolve(low, pc), pc)
	require.NoError(t, err)
	assert.True(t, out.Pending)

	high := *low
	high.Confidence = 0.9
	out, err = e.Execute(ctx, Resolve(&high, pc), pc)
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 130.0, st.records["r9"].Data["systolic"])
	assert.Empty(t, out.Alerts)

	other := contextFor("p2", nil)
	out, err = e.Execute(ctx, Resolve(&high, other), other)
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestQuery(t *testing.T) {
	st := newFakeStore()
	e := newExecutor(st)
	ctx := context.Background()
	for i, c := range []string{"water", "vitals", "water"} {
		_, err := st.CreateHealthRecord(ctx, &store.HealthRecord{UID: fmt.Sprintf("r%d", i), PatientUID: "p1", Category: c})
		require.NoError(t, err)
	}

	pc := contextFor("p1", nil)
	d := Resolve(&nlu.Result{Intent: nlu.IntentRecordQuery, Action: nlu.ActionQuery, Confidence: 0.9,
		Entities: map[string]any{"category": "water"}}, pc)
	require.Equal(t, nlu.CategoryWater, d.Category)

	out, err := e.Execute(ctx, d, pc)
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Len(t, out.Records, 2)
}

func TestExecute_CancelledContext(t *testing.T) {
	st := newFakeStore()
	st.err = context.Canceled
	e := newExecutor(st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pc := contextFor("p1", nil)
	d := Resolve(&nlu.Result{Intent: nlu.IntentHealthLog, Action: nlu.ActionSave, Confidence: 0.9,
		HealthData: &nlu.HealthData{WaterML: f64(200)}}, pc)
	_, err := e.Execute(ctx, d, pc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferCategory_Priority(t *testing.T) {
	tests := []struct {
		name string
		data *nlu.HealthData
		want nlu.Category
	}{
		{"vitals beats everything", &nlu.HealthData{HeartRate: f64(70), SleepHours: f64(7), Mood: "calm", WaterML: f64(100)}, nlu.CategoryVitals},
		{"sleep beats mood", &nlu.HealthData{SleepQuality: "poor", Mood: "tired"}, nlu.CategorySleep},
		{"mood beats symptom", &nlu.HealthData{MoodScore: f64(3), Symptoms: []string{"cough"}}, nlu.CategoryMood},
		{"symptom beats exercise", &nlu.HealthData{Symptoms: []string{"cough"}, ExerciseMinutes: f64(20)}, nlu.CategorySymptom},
		{"exercise beats water", &nlu.HealthData{ExerciseType: "walk", WaterML: f64(300)}, nlu.CategoryExercise},
		{"water beats food", &nlu.HealthData{WaterML: f64(300), Meal: "lunch"}, nlu.CategoryWater},
		{"food", &nlu.HealthData{FoodItems: []string{"rice"}}, nlu.CategoryFood},
		{"medication fallback", &nlu.HealthData{MedicationName: "metformin"}, nlu.CategoryMedication},
		{"nothing falls back to medication", &nlu.HealthData{Notes: "n/a"}, nlu.CategoryMedication},
		{"explicit type", &nlu.HealthData{Type: nlu.CategoryFood, HeartRate: f64(70)}, nlu.CategoryFood},
		{"nil", nil, nlu.CategoryMedication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCategory(tt.data))
		})
	}
}

func TestDetectAbnormal(t *testing.T) {
	tests := []struct {
		name     string
		data     nlu.HealthData
		category AbnormalCategory
		severity Severity
	}{
		{"bp critical", nlu.HealthData{Systolic: f64(185), Diastolic: f64(100)}, AbnormalBloodPressure, SeverityCritical},
		{"bp diastolic critical", nlu.HealthData{Systolic: f64(150), Diastolic: f64(121)}, AbnormalBloodPressure, SeverityCritical},
		{"bp warning", nlu.HealthData{Systolic: f64(145), Diastolic: f64(92)}, AbnormalBloodPressure, SeverityWarning},
		{"bp low", nlu.HealthData{Systolic: f64(85), Diastolic: f64(55)}, AbnormalBloodPressure, SeverityWarning},
		{"bp systolic only", nlu.HealthData{Systolic: f64(182)}, AbnormalBloodPressure, SeverityCritical},
		{"hr critical", nlu.HealthData{HeartRate: f64(130)}, AbnormalHeartRate, SeverityCritical},
		{"hr warning", nlu.HealthData{HeartRate: f64(105)}, AbnormalHeartRate, SeverityWarning},
		{"hr low", nlu.HealthData{HeartRate: f64(45)}, AbnormalHeartRate, SeverityWarning},
		{"sugar critical", nlu.HealthData{BloodSugar: f64(320)}, AbnormalBloodSugar, SeverityCritical},
		{"sugar mmol warning", nlu.HealthData{BloodSugar: f64(11.1)}, AbnormalBloodSugar, SeverityWarning},
		{"sugar low", nlu.HealthData{BloodSugar: f64(65)}, AbnormalBloodSugar, SeverityWarning},
		{"oxygen critical", nlu.HealthData{Oxygen: f64(88)}, AbnormalOxygen, SeverityCritical},
		{"oxygen warning", nlu.HealthData{Oxygen: f64(93)}, AbnormalOxygen, SeverityWarning},
		{"fever", nlu.HealthData{Temperature: f64(38.4)}, AbnormalTemperature, SeverityWarning},
		{"fahrenheit fever", nlu.HealthData{Temperature: f64(103.5)}, AbnormalTemperature, SeverityCritical},
		{"hypothermia", nlu.HealthData{Temperature: f64(34.5)}, AbnormalTemperature, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := DetectAbnormal(&tt.data)
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.category, alerts[0].Category)
			assert.Equal(t, tt.severity, alerts[0].Severity)
			assert.NotEmpty(t, alerts[0].Message)
		})
	}

	normal := nlu.HealthData{Systolic: f64(120), Diastolic: f64(80), HeartRate: f64(72), BloodSugar: f64(5.6),
		Oxygen: f64(98), Temperature: f64(98.6)}
	assert.Empty(t, DetectAbnormal(&normal))
	assert.Nil(t, DetectAbnormal(&nlu.HealthData{WaterML: f64(300)}))
	assert.Nil(t, DetectAbnormal(nil))

	multi := DetectAbnormal(&nlu.HealthData{Systolic: f64(145), Diastolic: f64(92), Oxygen: f64(85)})
	require.Len(t, multi, 2)
	assert.Equal(t, AbnormalBloodPressure, multi[0].Category)
	assert.True(t, Critical(multi))
}
