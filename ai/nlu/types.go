// Package nlu normalizes free-text language-model replies into typed
// intent/action/health-data results.
//
// The model is treated as an untrusted text producer: every reply goes through
// Parse, which never fails. Fenced or malformed JSON is repaired where possible,
// enum fields are re-validated against closed value sets, and when nothing can
// be parsed the original user message is classified with keyword heuristics.
package nlu

// Intent is the normalizer's intent vocabulary.
type Intent string

const (
	IntentGreeting      Intent = "greeting"
	IntentGeneralChat   Intent = "general_chat"
	IntentEmergency     Intent = "emergency"
	IntentHealthLog     Intent = "health_log"
	IntentVitalsLog     Intent = "vitals_log"
	IntentMedicationLog Intent = "medication_log"
	IntentSymptomReport Intent = "symptom_report"
	IntentRecordQuery   Intent = "record_query"
	IntentReportRequest Intent = "report_request"
)

// IsLogging reports whether the intent records health data.
func (i Intent) IsLogging() bool {
	switch i {
	case IntentHealthLog, IntentVitalsLog, IntentMedicationLog, IntentSymptomReport:
		return true
	}
	return false
}

// IsConversational reports whether the intent never touches patient records.
func (i Intent) IsConversational() bool {
	return i == IntentGreeting || i == IntentGeneralChat
}

// ActionKind is the persistence action a result asks for.
type ActionKind string

const (
	ActionSave    ActionKind = "save"
	ActionUpdate  ActionKind = "update"
	ActionDelete  ActionKind = "delete"
	ActionQuery   ActionKind = "query"
	ActionConfirm ActionKind = "confirm"
	ActionClarify ActionKind = "clarify"
	ActionNone    ActionKind = "none"
)

// Persists reports whether the action writes patient records.
func (a ActionKind) Persists() bool {
	return a == ActionSave || a == ActionUpdate || a == ActionDelete
}

// Category is the canonical health record class.
type Category string

const (
	CategoryMedication Category = "medication"
	CategoryVitals     Category = "vitals"
	CategoryWater      Category = "water"
	CategoryExercise   Category = "exercise"
	CategorySleep      Category = "sleep"
	CategorySymptom    Category = "symptom"
	CategoryMood       Category = "mood"
	CategoryFood       Category = "food"
)

// Categories lists every record class.
var Categories = []Category{
	CategoryMedication, CategoryVitals, CategoryWater, CategoryExercise,
	CategorySleep, CategorySymptom, CategoryMood, CategoryFood,
}

// Source records how a Result was produced.
type Source string

const (
	// SourceModel means the reply parsed as structured JSON.
	SourceModel Source = "model"
	// SourceHeuristic means the reply was unusable and a keyword heuristic matched the user message.
	SourceHeuristic Source = "heuristic"
	// SourceNone means neither the reply nor the heuristics produced anything.
	SourceNone Source = "none"
)

// HealthData is the health payload extracted from a reply. Pointer fields are
// nil when the model did not provide them.
type HealthData struct {
	Type Category `json:"type,omitempty"`

	MedicationName string `json:"medication_name,omitempty"`
	Dosage         string `json:"dosage,omitempty"`
	Taken          *bool  `json:"taken,omitempty"`
	Period         string `json:"period,omitempty"`

	Systolic    *float64 `json:"systolic,omitempty"`
	Diastolic   *float64 `json:"diastolic,omitempty"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
	BloodSugar  *float64 `json:"blood_sugar,omitempty"`
	Oxygen      *float64 `json:"oxygen,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	WaterML *float64 `json:"water_ml,omitempty"`

	ExerciseType    string   `json:"exercise_type,omitempty"`
	ExerciseMinutes *float64 `json:"exercise_minutes,omitempty"`

	SleepHours   *float64 `json:"sleep_hours,omitempty"`
	SleepQuality string   `json:"sleep_quality,omitempty"`

	Symptoms        []string `json:"symptoms,omitempty"`
	SymptomSeverity string   `json:"symptom_severity,omitempty"`

	Mood      string   `json:"mood,omitempty"`
	MoodScore *float64 `json:"mood_score,omitempty"`

	Meal      string   `json:"meal,omitempty"`
	FoodItems []string `json:"food_items,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// HasVitals reports whether any vital sign is set.
func (h *HealthData) HasVitals() bool {
	return h != nil && (h.Systolic != nil || h.Diastolic != nil || h.HeartRate != nil ||
		h.BloodSugar != nil || h.Oxygen != nil || h.Temperature != nil)
}

// IsEmpty reports whether no field carries data.
func (h *HealthData) IsEmpty() bool {
	if h == nil {
		return true
	}
	return !h.HasVitals() && h.MedicationName == "" && h.Dosage == "" && h.Taken == nil &&
		h.WaterML == nil && h.ExerciseType == "" && h.ExerciseMinutes == nil &&
		h.SleepHours == nil && h.SleepQuality == "" && len(h.Symptoms) == 0 &&
		h.Mood == "" && h.MoodScore == nil && h.Meal == "" && len(h.FoodItems) == 0 &&
		h.Notes == ""
}

// Result is a normalized model reply.
type Result struct {
	Intent             Intent         `json:"intent"`
	SubIntent          string         `json:"sub_intent,omitempty"`
	Action             ActionKind     `json:"action"`
	Confidence         float64        `json:"confidence"`
	Entities           map[string]any `json:"entities,omitempty"`
	HealthData         *HealthData    `json:"health_data,omitempty"`
	Reply              string         `json:"reply,omitempty"`
	NeedsClarification bool           `json:"needs_clarification,omitempty"`
	ClarifyQuestion    string         `json:"clarify_question,omitempty"`
	Source             Source         `json:"source"`

	// Repairs lists the coercions applied to the raw reply.
	Repairs []string `json:"repairs,omitempty"`
}
