package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/ai/routing"
)

func TestAlertEvaluator_BuiltInTriggers(t *testing.T) {
	a, err := NewAlertEvaluator(nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		text     string
		combined map[string]any
		want     AlertDecision
	}{
		{"quiet", "she drank 300ml water", map[string]any{"reply": "noted"}, AlertDecision{}},
		{"alert flag", "bp 190/125", map[string]any{"alert": true}, AlertDecision{Fire: true, Trigger: TriggerFlag, Reason: "alert"}},
		{"string flag", "x", map[string]any{"requires_alert": "true"}, AlertDecision{Fire: true, Trigger: TriggerFlag, Reason: "requires_alert"}},
		{"false flag", "x", map[string]any{"emergency": false}, AlertDecision{}},
		{"marker", "Mom has chest pain since noon", map[string]any{}, AlertDecision{Fire: true, Trigger: TriggerMarker, Reason: "emergency marker in message"}},
		{"marker inside a number", "She is in room 2911, sugar 110", map[string]any{}, AlertDecision{}},
		{"marker inside a word", "she stroked the cat all afternoon", map[string]any{}, AlertDecision{}},
		{"negated marker", "no emergency, just logging her lunch", map[string]any{}, AlertDecision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.ShouldAlert(tt.text, routing.IntentHealthLog, &AggregatedResult{Combined: tt.combined})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlertEvaluator_Rules(t *testing.T) {
	a, err := NewAlertEvaluator([]string{
		`intent == "vitals_log" && combined.systolic >= 160.0`,
		`text.contains("confused")`,
	})
	require.NoError(t, err)

	got := a.ShouldAlert("bp 165/95", routing.IntentVitalsLog, &AggregatedResult{Combined: map[string]any{"systolic": 165}})
	assert.Equal(t, TriggerRule, got.Trigger)

	got = a.ShouldAlert("bp 150/95", routing.IntentVitalsLog, &AggregatedResult{Combined: map[string]any{"systolic": 150}})
	assert.False(t, got.Fire)

	got = a.ShouldAlert("he seems confused today", routing.IntentVitalsLog, &AggregatedResult{Combined: map[string]any{}})
	assert.True(t, got.Fire, "a missing key in one rule does not stop the next")
}

func TestAlertEvaluator_InvalidRules(t *testing.T) {
	_, err := NewAlertEvaluator([]string{`combined.`})
	assert.Error(t, err)

	_, err = NewAlertEvaluator([]string{`text + "x"`})
	assert.ErrorContains(t, err, "must evaluate to bool")

	a, err := NewAlertEvaluator([]string{"  ", ""})
	require.NoError(t, err)
	assert.Empty(t, a.rules)
}
