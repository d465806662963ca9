package nlu

import (
	"encoding/json"
	"strings"
)

// Default confidence assigned when a structured reply omits it.
const defaultModelConfidence = 0.5

var knownIntents = map[Intent]bool{
	IntentGreeting: true, IntentGeneralChat: true, IntentEmergency: true,
	IntentHealthLog: true, IntentVitalsLog: true, IntentMedicationLog: true,
	IntentSymptomReport: true, IntentRecordQuery: true, IntentReportRequest: true,
}

// intentAliases maps labels models commonly invent onto the closed set.
// Anything not listed collapses to general_chat.
var intentAliases = map[string]Intent{
	"hello":           IntentGreeting,
	"hi":              IntentGreeting,
	"greet":           IntentGreeting,
	"chat":            IntentGeneralChat,
	"smalltalk":       IntentGeneralChat,
	"small_talk":      IntentGeneralChat,
	"conversation":    IntentGeneralChat,
	"other":           IntentGeneralChat,
	"unknown":         IntentGeneralChat,
	"urgent":          IntentEmergency,
	"sos":             IntentEmergency,
	"alert":           IntentEmergency,
	"log":             IntentHealthLog,
	"record":          IntentHealthLog,
	"health":          IntentHealthLog,
	"health_record":   IntentHealthLog,
	"activity_log":    IntentHealthLog,
	"vitals":          IntentVitalsLog,
	"vital_signs":     IntentVitalsLog,
	"blood_pressure":  IntentVitalsLog,
	"medication":      IntentMedicationLog,
	"medicine":        IntentMedicationLog,
	"meds":            IntentMedicationLog,
	"symptom":         IntentSymptomReport,
	"symptoms":        IntentSymptomReport,
	"query":           IntentRecordQuery,
	"question":        IntentRecordQuery,
	"lookup":          IntentRecordQuery,
	"history":         IntentRecordQuery,
	"report":          IntentReportRequest,
	"summary":         IntentReportRequest,
	"weekly_report":   IntentReportRequest,
	"generate_report": IntentReportRequest,
}

var knownActions = map[ActionKind]bool{
	ActionSave: true, ActionUpdate: true, ActionDelete: true, ActionQuery: true,
	ActionConfirm: true, ActionClarify: true, ActionNone: true,
}

var actionAliases = map[string]ActionKind{
	"create": ActionSave,
	"add":    ActionSave,
	"log":    ActionSave,
	"record": ActionSave,
	"insert": ActionSave,
	"edit":   ActionUpdate,
	"modify": ActionUpdate,
	"change": ActionUpdate,
	"remove": ActionDelete,
	"cancel": ActionDelete,
	"get":    ActionQuery,
	"read":   ActionQuery,
	"search": ActionQuery,
	"list":   ActionQuery,
	"ask":    ActionClarify,
	"verify": ActionConfirm,
}

var categoryAliases = map[string]Category{
	"medications":    CategoryMedication,
	"medicine":       CategoryMedication,
	"meds":           CategoryMedication,
	"vital":          CategoryVitals,
	"vital_signs":    CategoryVitals,
	"blood_pressure": CategoryVitals,
	"bp":             CategoryVitals,
	"hydration":      CategoryWater,
	"drink":          CategoryWater,
	"fluid":          CategoryWater,
	"activity":       CategoryExercise,
	"workout":        CategoryExercise,
	"walk":           CategoryExercise,
	"rest":           CategorySleep,
	"nap":            CategorySleep,
	"symptoms":       CategorySymptom,
	"pain":           CategorySymptom,
	"emotion":        CategoryMood,
	"feeling":        CategoryMood,
	"meal":           CategoryFood,
	"diet":           CategoryFood,
	"nutrition":      CategoryFood,
}

// Parse normalizes a raw model reply. userMessage is the original inbound text,
// used by the keyword heuristics when the reply cannot be parsed. Parse never
// fails; the returned Result always carries valid enum values and a confidence
// in [0,1].
func Parse(raw, userMessage string) *Result {
	obj, ok := decodeObject(raw)
	if !ok {
		return Heuristic(userMessage)
	}
	return fromObject(obj)
}

// decodeObject strips fencing and decodes the reply into a JSON object.
func decodeObject(raw string) (map[string]any, bool) {
	body := StripCodeFence(raw)
	if body == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil && obj != nil {
		return obj, true
	}
	if obj, ok := unmarshalObject(extractObject(body)); ok {
		return obj, true
	}
	// A fenced non-JSON block may precede the object itself.
	if body != strings.TrimSpace(raw) {
		return unmarshalObject(extractObject(raw))
	}
	return nil, false
}

func unmarshalObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func fromObject(obj map[string]any) *Result {
	r := &Result{Source: SourceModel}

	r.Intent = r.normalizeIntent(firstPresent(obj, "intent", "intent_type"))
	r.SubIntent = asString(firstPresent(obj, "sub_intent", "subIntent", "subintent"))

	if v, ok := lookup(obj, "confidence", "score"); ok {
		c, valid := asFloat(v)
		if !valid {
			r.repair("confidence not numeric")
			c = defaultModelConfidence
		}
		r.Confidence = clamp01(c)
		if r.Confidence != c {
			r.repair("confidence clamped")
		}
	} else {
		r.repair("confidence missing")
		r.Confidence = defaultModelConfidence
	}

	if ents, ok := firstPresent(obj, "entities").(map[string]any); ok {
		r.Entities = ents
	}

	if hdRaw, ok := firstPresent(obj, "health_data", "healthData", "data").(map[string]any); ok {
		r.HealthData = r.parseHealthData(hdRaw)
	} else if firstPresent(obj, "health_data", "healthData", "data") != nil {
		r.repair("health_data not an object")
	}

	r.Reply = asString(firstPresent(obj, "reply", "response", "message"))
	r.ClarifyQuestion = asString(firstPresent(obj, "clarify_question", "clarification", "question"))
	if b, ok := asBool(firstPresent(obj, "needs_clarification", "needsClarification")); ok {
		r.NeedsClarification = b
	}

	r.Action = r.normalizeAction(firstPresent(obj, "action", "action_type"))
	if r.Action == ActionClarify {
		r.NeedsClarification = true
	}
	return r
}

func (r *Result) normalizeIntent(v any) Intent {
	s, ok := v.(string)
	if !ok {
		if v != nil {
			r.repair("intent not a string")
		} else {
			r.repair("intent missing")
		}
		return IntentGeneralChat
	}
	key := canonicalKey(s)
	if knownIntents[Intent(key)] {
		return Intent(key)
	}
	if alias, ok := intentAliases[key]; ok {
		r.repair("intent alias " + key)
		return alias
	}
	r.repair("unknown intent " + s)
	return IntentGeneralChat
}

// normalizeAction validates the action, inferring one when it is absent or
// invalid: logging intents with data save, queries query, everything else is none.
func (r *Result) normalizeAction(v any) ActionKind {
	if s, ok := v.(string); ok {
		key := canonicalKey(s)
		if knownActions[ActionKind(key)] {
			return ActionKind(key)
		}
		if alias, ok := actionAliases[key]; ok {
			r.repair("action alias " + key)
			return alias
		}
		r.repair("unknown action " + s)
	} else if v != nil {
		r.repair("action not a string")
	}

	switch {
	case r.NeedsClarification:
		return ActionClarify
	case r.Intent.IsLogging() && !r.HealthData.IsEmpty():
		return ActionSave
	case r.Intent == IntentRecordQuery:
		return ActionQuery
	default:
		return ActionNone
	}
}

func (r *Result) parseHealthData(m map[string]any) *HealthData {
	hd := &HealthData{}
	if t := asString(firstPresent(m, "type", "category")); t != "" {
		key := canonicalKey(t)
		switch {
		case isCategory(Category(key)):
			hd.Type = Category(key)
		case categoryAliases[key] != "":
			hd.Type = categoryAliases[key]
		default:
			r.repair("unknown health_data type " + t)
		}
	}

	hd.MedicationName = asString(firstPresent(m, "medication_name", "medication", "medicine", "drug", "name"))
	hd.Dosage = asString(firstPresent(m, "dosage", "dose"))
	if b, ok := asBool(firstPresent(m, "taken", "medication_taken")); ok {
		hd.Taken = &b
	}
	hd.Period = asString(firstPresent(m, "period", "time_of_day"))

	hd.Systolic = floatPtr(firstPresent(m, "systolic", "sys", "bp_systolic"))
	hd.Diastolic = floatPtr(firstPresent(m, "diastolic", "dia", "bp_diastolic"))
	if hd.Systolic == nil && hd.Diastolic == nil {
		if s, d, ok := splitPressure(asString(firstPresent(m, "blood_pressure", "bp"))); ok {
			hd.Systolic, hd.Diastolic = &s, &d
			r.repair("blood_pressure split")
		}
	}
	hd.HeartRate = floatPtr(firstPresent(m, "heart_rate", "heartRate", "pulse", "bpm"))
	hd.BloodSugar = floatPtr(firstPresent(m, "blood_sugar", "bloodSugar", "glucose"))
	hd.Oxygen = floatPtr(firstPresent(m, "oxygen", "spo2", "oxygen_saturation"))
	hd.Temperature = floatPtr(firstPresent(m, "temperature", "temp"))

	hd.WaterML = floatPtr(firstPresent(m, "water_ml", "water", "amount_ml"))

	hd.ExerciseType = asString(firstPresent(m, "exercise_type", "exercise", "activity"))
	hd.ExerciseMinutes = floatPtr(firstPresent(m, "exercise_minutes", "duration_minutes", "minutes"))

	hd.SleepHours = floatPtr(firstPresent(m, "sleep_hours", "hours_slept", "sleep"))
	hd.SleepQuality = asString(firstPresent(m, "sleep_quality"))

	hd.Symptoms = asStrings(firstPresent(m, "symptoms", "symptom"))
	hd.SymptomSeverity = asString(firstPresent(m, "symptom_severity", "severity"))

	hd.Mood = asString(firstPresent(m, "mood"))
	hd.MoodScore = floatPtr(firstPresent(m, "mood_score"))

	hd.Meal = asString(firstPresent(m, "meal"))
	hd.FoodItems = asStrings(firstPresent(m, "food_items", "food", "foods"))

	hd.Notes = asString(firstPresent(m, "notes", "note"))
	return hd
}

func (r *Result) repair(note string) {
	r.Repairs = append(r.Repairs, note)
}

func isCategory(c Category) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// canonicalKey lowercases and folds separators to underscores.
func canonicalKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
}

func clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
