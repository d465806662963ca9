package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
)

type fakeLLM struct {
	reply string
	err   error
	calls atomic.Int32
	last  llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.calls.Add(1)
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: f.reply}, nil
}

func (f *fakeLLM) Warmup(context.Context) {}

func contextFor(text string) *conversation.ProcessingContext {
	return &conversation.ProcessingContext{
		Message: &conversation.Message{
			ID:      "m1",
			Content: text,
			Context: conversation.MessageContext{SenderID: "u1", PatientID: "p1", Source: conversation.SourceAPI},
		},
		Patient: &conversation.PatientProfile{ID: "p1", Name: "Grandma Li"},
	}
}

func TestIntent_StringAndParse(t *testing.T) {
	for _, intent := range Intents() {
		parsed, ok := ParseIntent(intent.String())
		require.True(t, ok, intent.String())
		assert.Equal(t, intent, parsed)
	}

	_, ok := ParseIntent("FOO-bar")
	assert.False(t, ok)
	assert.Equal(t, "intent(200)", Intent(200).String())
	assert.False(t, Intent(200).Valid())
}

func TestIntent_TextRoundTrip(t *testing.T) {
	var in Intent
	require.NoError(t, in.UnmarshalText([]byte("vitals_log")))
	assert.Equal(t, IntentVitalsLog, in)

	require.NoError(t, in.UnmarshalText([]byte("nonsense")))
	assert.Equal(t, IntentUnknown, in)
}

func TestPatternMatcher_Match(t *testing.T) {
	m := NewPatternMatcher()

	tests := []struct {
		input      string
		wantIntent Intent
		wantAbove  bool
	}{
		{"BP 145/92 this morning", IntentVitalsLog, true},
		{"Hi there", IntentGreeting, true},
		{"Mom collapsed in the bathroom", IntentEmergency, true},
		{"Did mom take her medication today?", IntentRecordQuery, true},
		{"She drank 500 ml of water", IntentHealthLog, true},
		{"Took her metformin at breakfast", IntentMedicationLog, true},
		{"Dad feels dizzy", IntentSymptomReport, true},
		{"Send me the weekly report", IntentReportRequest, true},
		{"Dad's blood pressure seems high", IntentVitalsLog, false},
		{"how are you?", IntentGreeting, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cls := m.Match(tt.input)
			assert.Equal(t, tt.wantIntent, cls.Intent)
			assert.Equal(t, MethodPattern, cls.Method)
			assert.Equal(t, tt.wantAbove, cls.Confidence > PatternThreshold, "score %v", cls.Confidence)
			assert.GreaterOrEqual(t, cls.Confidence, 0.0)
			assert.LessOrEqual(t, cls.Confidence, 1.0)
		})
	}
}

func TestPatternMatcher_NoMatch(t *testing.T) {
	cls := NewPatternMatcher().Match("")
	assert.Equal(t, IntentUnknown, cls.Intent)
	assert.Zero(t, cls.Confidence)
}

func TestPatternMatcher_VitalsEntities(t *testing.T) {
	m := NewPatternMatcher()

	cls := m.Match("Blood pressure 185/100 tonight")
	require.Equal(t, IntentVitalsLog, cls.Intent)
	assert.Equal(t, 185.0, cls.Entities["systolic"])
	assert.Equal(t, 100.0, cls.Entities["diastolic"])
	assert.Equal(t, "night", cls.Entities["period"])

	cls = m.Match("pulse 110 this afternoon")
	require.Equal(t, IntentVitalsLog, cls.Intent)
	assert.Equal(t, 110.0, cls.Entities["heart_rate"])
	assert.Equal(t, "afternoon", cls.Entities["period"])
}

func TestPatternMatcher_VitalsIgnoreClockTimes(t *testing.T) {
	m := NewPatternMatcher()

	cls := m.Match("at 8 am her blood pressure was 150 95")
	require.Equal(t, IntentVitalsLog, cls.Intent)
	assert.Equal(t, 150.0, cls.Entities["systolic"])
	assert.Equal(t, 95.0, cls.Entities["diastolic"])
	assert.Equal(t, "morning", cls.Entities["period"])

	cls = m.Match("bp 120 over 80 at 7:30")
	require.Equal(t, IntentVitalsLog, cls.Intent)
	assert.Equal(t, 120.0, cls.Entities["systolic"])
	assert.Equal(t, 80.0, cls.Entities["diastolic"])

	cls = m.Match("blood pressure 130 at 9pm")
	require.Equal(t, IntentVitalsLog, cls.Intent)
	assert.NotContains(t, cls.Entities, "systolic")
	assert.NotContains(t, cls.Entities, "diastolic")

	cls = m.Match("at 8 am pulse was 72")
	require.Equal(t, IntentVitalsLog, cls.Intent)
	assert.Equal(t, 72.0, cls.Entities["heart_rate"])
}

func TestPatternMatcher_RejectsImplausiblePressure(t *testing.T) {
	m := NewPatternMatcher()

	for _, text := range []string{"bp 95/150", "blood pressure 300/90", "blood pressure 120/20"} {
		cls := m.Match(text)
		require.Equal(t, IntentVitalsLog, cls.Intent, text)
		assert.NotContains(t, cls.Entities, "systolic", text)
	}
}

func TestPatternMatcher_NegatedEmergency(t *testing.T) {
	m := NewPatternMatcher()

	assert.NotEqual(t, IntentEmergency, m.Match("no emergency, just logging her lunch").Intent)
	assert.NotEqual(t, IntentEmergency, m.Match("she stroked the cat all afternoon").Intent)
	assert.Equal(t, IntentEmergency, m.Match("she collapsed in the kitchen").Intent)
}

func TestPatternMatcher_LoadOverrides(t *testing.T) {
	m := NewPatternMatcher()
	require.NoError(t, m.Load([]byte(`
intents:
  report_request:
    - "digest"
`)))

	cls := m.Match("please send the digest")
	assert.Equal(t, IntentReportRequest, cls.Intent)
	assert.Equal(t, 1.0, cls.Confidence)

	assert.Error(t, m.Load([]byte("intents:\n  not_an_intent: [\"x\"]\n")))
	assert.Error(t, m.Load([]byte("intents:\n  greeting: [\"(unclosed\"]\n")))
	assert.Error(t, m.LoadFile(t.TempDir()+"/missing.yaml"))
}

func TestResolver_PatternSkipsModel(t *testing.T) {
	model := &fakeLLM{reply: `{"intent":"general_chat","confidence":0.99}`}
	r := NewResolver(ResolverConfig{LLM: model})

	cls := r.Classify(context.Background(), contextFor("BP 120/80"))
	assert.Equal(t, IntentVitalsLog, cls.Intent)
	assert.Equal(t, MethodPattern, cls.Method)
	assert.Zero(t, model.calls.Load())
}

func TestResolver_ModelPath(t *testing.T) {
	model := &fakeLLM{reply: "```json\n{\"intent\":\"symptom_report\",\"confidence\":0.91,\"entities\":{\"symptom\":\"tired\"}}\n```"}
	r := NewResolver(ResolverConfig{LLM: model, Model: "classifier"})

	cls := r.Classify(context.Background(), contextFor("she is not herself today"))
	assert.Equal(t, IntentSymptomReport, cls.Intent)
	assert.Equal(t, MethodModel, cls.Method)
	assert.InDelta(t, 0.91, cls.Confidence, 1e-9)
	assert.Equal(t, "tired", cls.Entities["symptom"])
	require.NotNil(t, cls.Result)

	assert.Equal(t, "classifier", model.last.Model)
	require.Len(t, model.last.Messages, 2)
	assert.Contains(t, model.last.Messages[1].Content, "Grandma Li")
}

func TestResolver_NeverFails(t *testing.T) {
	tests := []struct {
		name       string
		model      llm.Service
		text       string
		wantIntent Intent
		wantMethod Method
		wantZero   bool
	}{
		{"model error", &fakeLLM{err: errors.New("connection reset")}, "she is not herself today", IntentUnknown, MethodError, true},
		{"no model", nil, "she is not herself today", IntentUnknown, MethodError, true},
		{"unparsable reply no heuristic", &fakeLLM{reply: "I cannot help"}, "she is not herself today", IntentUnknown, MethodError, true},
		{"unparsable reply heuristic", &fakeLLM{reply: "{truncated"}, "she seems in pain", IntentHealthLog, MethodFallback, false},
		{"invalid enum", &fakeLLM{reply: `{"intent":"FOO-bar","confidence":0.95}`}, "she is not herself today", IntentGeneralChat, MethodModel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(ResolverConfig{LLM: tt.model})
			cls := r.Classify(context.Background(), contextFor(tt.text))
			assert.Equal(t, tt.wantIntent, cls.Intent)
			assert.Equal(t, tt.wantMethod, cls.Method)
			assert.Equal(t, tt.wantZero, cls.Confidence == 0)
			assert.GreaterOrEqual(t, cls.Confidence, 0.0)
			assert.LessOrEqual(t, cls.Confidence, 1.0)
		})
	}
}

type handlerSet map[HandlerName]bool

func (s handlerSet) Has(n HandlerName) bool { return s[n] }

func TestPlan_RouteTableIsTotal(t *testing.T) {
	for _, intent := range Intents() {
		plan := Plan(Classification{Intent: intent, Confidence: 0.95})
		require.NotEmpty(t, plan.Handlers, intent.String())
		assert.Equal(t, HandlerConversation, plan.Fallback)
		for _, h := range plan.Handlers {
			assert.True(t, h.IsKnown(), "%s routes to unknown handler %s", intent, h)
		}
	}
}

func TestPlan_DecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		cls      Classification
		handlers []HandlerName
		parallel bool
		card     CardType
	}{
		{"low confidence", Classification{Intent: IntentVitalsLog, Confidence: 0.8}, []HandlerName{HandlerHealthLog, HandlerConversation}, true, CardNone},
		{"failed classification", Classification{Intent: IntentUnknown}, []HandlerName{HandlerHealthLog, HandlerConversation}, true, CardNone},
		{"vitals", Classification{Intent: IntentVitalsLog, Confidence: 0.81}, []HandlerName{HandlerVitals, HandlerConversation}, false, CardVitals},
		{"emergency", Classification{Intent: IntentEmergency, Confidence: 0.9}, []HandlerName{HandlerSymptom, HandlerConversation}, true, CardEmergency},
		{"medication", Classification{Intent: IntentMedicationLog, Confidence: 1}, []HandlerName{HandlerMedication, HandlerHealthLog}, false, CardMedication},
		{"report", Classification{Intent: IntentReportRequest, Confidence: 1}, []HandlerName{HandlerReport, HandlerQuery}, false, CardReport},
		{"greeting", Classification{Intent: IntentGreeting, Confidence: 1}, []HandlerName{HandlerConversation}, false, CardNone},
		{"out of range intent", Classification{Intent: Intent(99), Confidence: 1}, []HandlerName{HandlerHealthLog, HandlerConversation}, true, CardNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Plan(tt.cls)
			assert.Equal(t, tt.handlers, plan.Handlers)
			assert.Equal(t, tt.parallel, plan.Parallel)
			assert.Equal(t, tt.card, plan.Card)
		})
	}
}

func TestPlan_Reproducible(t *testing.T) {
	cls := Classification{Intent: IntentHealthLog, Confidence: 0.9}
	a := Plan(cls)
	b := Plan(cls)
	assert.Equal(t, a, b)

	a.Handlers[0] = HandlerReport
	assert.Equal(t, HandlerHealthLog, Plan(cls).Handlers[0], "plans must not share the table's slices")
}

func TestRoutingPlan_Restrict(t *testing.T) {
	plan := Plan(Classification{Intent: IntentVitalsLog, Confidence: 0.95})

	restricted := plan.Restrict(handlerSet{HandlerConversation: true})
	assert.Equal(t, []HandlerName{HandlerConversation}, restricted.Handlers)
	assert.Equal(t, HandlerConversation, restricted.Fallback)
	assert.Equal(t, []HandlerName{HandlerVitals, HandlerConversation}, plan.Handlers)

	empty := plan.Restrict(handlerSet{})
	assert.Empty(t, empty.Handlers)
	assert.Empty(t, empty.Fallback)
}
