package action

import "github.com/hrygo/caresense/ai/nlu"

type field struct {
	key string
	get func(h *nlu.HealthData) (any, bool)
}

func str(get func(h *nlu.HealthData) string) func(*nlu.HealthData) (any, bool) {
	return func(h *nlu.HealthData) (any, bool) {
		v := get(h)
		return v, v != ""
	}
}

func num(get func(h *nlu.HealthData) *float64) func(*nlu.HealthData) (any, bool) {
	return func(h *nlu.HealthData) (any, bool) {
		if v := get(h); v != nil {
			return *v, true
		}
		return nil, false
	}
}

func list(get func(h *nlu.HealthData) []string) func(*nlu.HealthData) (any, bool) {
	return func(h *nlu.HealthData) (any, bool) {
		v := get(h)
		return v, len(v) > 0
	}
}

// fieldMapping converts a health payload into the canonical record fields of each category.
var fieldMapping = map[nlu.Category][]field{
	nlu.CategoryMedication: {
		{"medication_name", str(func(h *nlu.HealthData) string { return h.MedicationName })},
		{"dosage", str(func(h *nlu.HealthData) string { return h.Dosage })},
		{"taken", func(h *nlu.HealthData) (any, bool) {
			if h.Taken == nil {
				return nil, false
			}
			return *h.Taken, true
		}},
		{"period", str(func(h *nlu.HealthData) string { return h.Period })},
	},
	nlu.CategoryVitals: {
		{"systolic", num(func(h *nlu.HealthData) *float64 { return h.Systolic })},
		{"diastolic", num(func(h *nlu.HealthData) *float64 { return h.Diastolic })},
		{"heart_rate", num(func(h *nlu.HealthData) *float64 { return h.HeartRate })},
		{"blood_sugar", num(func(h *nlu.HealthData) *float64 { return h.BloodSugar })},
		{"oxygen", num(func(h *nlu.HealthData) *float64 { return h.Oxygen })},
		{"temperature", num(func(h *nlu.HealthData) *float64 { return h.Temperature })},
		{"period", str(func(h *nlu.HealthData) string { return h.Period })},
	},
	nlu.CategoryWater: {
		{"amount_ml", num(func(h *nlu.HealthData) *float64 { return h.WaterML })},
	},
	nlu.CategoryExercise: {
		{"exercise_type", str(func(h *nlu.HealthData) string { return h.ExerciseType })},
		{"duration_minutes", num(func(h *nlu.HealthData) *float64 { return h.ExerciseMinutes })},
	},
	nlu.CategorySleep: {
		{"hours", num(func(h *nlu.HealthData) *float64 { return h.SleepHours })},
		{"quality", str(func(h *nlu.HealthData) string { return h.SleepQuality })},
	},
	nlu.CategorySymptom: {
		{"symptoms", list(func(h *nlu.HealthData) []string { return h.Symptoms })},
		{"severity", str(func(h *nlu.HealthData) string { return h.SymptomSeverity })},
	},
	nlu.CategoryMood: {
		{"mood", str(func(h *nlu.HealthData) string { return h.Mood })},
		{"score", num(func(h *nlu.HealthData) *float64 { return h.MoodScore })},
	},
	nlu.CategoryFood: {
		{"meal", str(func(h *nlu.HealthData) string { return h.Meal })},
		{"items", list(func(h *nlu.HealthData) []string { return h.FoodItems })},
	},
}

// MapFields returns the canonical record data of h for category. Notes are
// carried for every category.
func MapFields(category nlu.Category, h *nlu.HealthData) map[string]any {
	data := map[string]any{}
	if h == nil {
		return data
	}
	for _, f := range fieldMapping[category] {
		if v, ok := f.get(h); ok {
			data[f.key] = v
		}
	}
	if h.Notes != "" {
		data["notes"] = h.Notes
	}
	return data
}

// InferCategory returns the explicit category when valid, otherwise the first
// populated category in the order vitals, sleep, mood, symptom, exercise,
// water, food. Medication is the fallback.
func InferCategory(h *nlu.HealthData) nlu.Category {
	if c, ok := explicitCategory(h); ok {
		return c
	}
	if h == nil {
		return nlu.CategoryMedication
	}
	switch {
	case h.HasVitals():
		return nlu.CategoryVitals
	case h.SleepHours != nil || h.SleepQuality != "":
		return nlu.CategorySleep
	case h.Mood != "" || h.MoodScore != nil:
		return nlu.CategoryMood
	case len(h.Symptoms) > 0 || h.SymptomSeverity != "":
		return nlu.CategorySymptom
	case h.ExerciseType != "" || h.ExerciseMinutes != nil:
		return nlu.CategoryExercise
	case h.WaterML != nil:
		return nlu.CategoryWater
	case h.Meal != "" || len(h.FoodItems) > 0:
		return nlu.CategoryFood
	}
	return nlu.CategoryMedication
}
