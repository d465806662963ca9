package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/store"
)

type fixedClassifier struct {
	cls   routing.Classification
	panic bool
}

func (f fixedClassifier) Classify(context.Context, *conversation.ProcessingContext) routing.Classification {
	if f.panic {
		panic("classifier exploded")
	}
	return f.cls
}

type memoryLogs struct {
	mu   sync.Mutex
	logs []*store.ConversationLog
	err  error
}

func (m *memoryLogs) CreateConversationLog(_ context.Context, l *store.ConversationLog) (*store.ConversationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.logs = append(m.logs, l)
	return l, nil
}

type scriptedLLM struct {
	reply string
	err   error
}

func (s *scriptedLLM) Complete(context.Context, llm.Request) (*llm.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Content: s.reply, Model: "test-model"}, nil
}

func (s *scriptedLLM) Warmup(context.Context) {}

type memoryRecords struct {
	mu      sync.Mutex
	records []*store.HealthRecord
}

func (m *memoryRecords) CreateHealthRecord(_ context.Context, r *store.HealthRecord) (*store.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return r, nil
}

func (m *memoryRecords) ListHealthRecords(context.Context, *store.FindHealthRecord) ([]*store.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.HealthRecord(nil), m.records...), nil
}

func (m *memoryRecords) UpdateHealthRecord(context.Context, *store.UpdateHealthRecord) (*store.HealthRecord, error) {
	return nil, store.ErrNotFound
}

func (m *memoryRecords) DeleteHealthRecord(context.Context, *store.DeleteHealthRecord) error {
	return store.ErrNotFound
}

// alertProbe records every alert handler invocation.
type alertProbe struct {
	calls   atomic.Int32
	trigger atomic.Value
}

func (p *alertProbe) handler() Handler {
	return HandlerFunc{HandlerName: routing.HandlerAlert, Fn: func(_ context.Context, pc *conversation.ProcessingContext) (*HandlerResult, error) {
		p.calls.Add(1)
		p.trigger.Store(pc.Message.Metadata[MetaAlertTrigger])
		return Succeed(map[string]any{"reply": "I've let the family know."}), nil
	}}
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Dependencies) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps)
	require.NoError(t, err)
	return o
}

func message(text string) *conversation.Message {
	return &conversation.Message{
		ID:      "m1",
		Content: text,
		Context: conversation.MessageContext{SenderID: "u1", PatientID: "p1", SessionID: "s1"},
	}
}

func highConfidence(intent routing.Intent) fixedClassifier {
	return fixedClassifier{cls: routing.Classification{Intent: intent, Confidence: 0.95, Method: routing.MethodModel}}
}

func TestProcess_AlertOnMarkerRegardlessOfIntent(t *testing.T) {
	probe := &alertProbe{}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentHealthLog),
		Registry: mustRegistry(t,
			succeedWith(routing.HandlerHealthLog, map[string]any{"reply": "Noted her lunch."}),
			probe.handler(),
		),
	})

	resp := o.Process(context.Background(), message("she ate lunch then fell down in the kitchen"))

	require.True(t, resp.Success)
	assert.Equal(t, int32(1), probe.calls.Load())
	assert.Equal(t, string(TriggerMarker), probe.trigger.Load())
	require.NotNil(t, resp.Alert)
	assert.Contains(t, resp.Reply, "Noted her lunch.")
	assert.Contains(t, resp.Reply, "I've let the family know.")
	assert.NotEmpty(t, resp.TraceID)
	assert.Equal(t, ModeMultiAgent, resp.Mode)
}

func TestProcess_AlertFlagFromHandler(t *testing.T) {
	probe := &alertProbe{}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentVitalsLog),
		Registry: mustRegistry(t,
			succeedWith(routing.HandlerVitals, map[string]any{"reply": "Recorded 190/125.", "alert": true}),
			probe.handler(),
		),
	})

	resp := o.Process(context.Background(), message("bp 190/125"))
	require.True(t, resp.Success)
	assert.Equal(t, int32(1), probe.calls.Load())
	assert.Equal(t, string(TriggerFlag), probe.trigger.Load())
}

func TestEvaluateAlert_SkipsWhenAlertHandlerSucceeded(t *testing.T) {
	probe := &alertProbe{}
	o := newTestOrchestrator(t, Config{}, Dependencies{Registry: mustRegistry(t, probe.handler())})

	agg := Aggregate([]*HandlerResult{{Handler: routing.HandlerAlert, Success: true, Data: map[string]any{"alert": true}}})
	o.evaluateAlert(context.Background(), testContext("ambulance"), routing.IntentEmergency, agg, map[string]any{})
	assert.Zero(t, probe.calls.Load())
}

func TestProcess_FallbackRunsOnce(t *testing.T) {
	var fallbackCalls atomic.Int32
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentReportRequest),
		Registry: mustRegistry(t,
			failWith(routing.HandlerReport, "report failed"),
			failWith(routing.HandlerQuery, "query failed"),
			HandlerFunc{HandlerName: routing.HandlerConversation, Fn: func(context.Context, *conversation.ProcessingContext) (*HandlerResult, error) {
				fallbackCalls.Add(1)
				return Succeed(map[string]any{"reply": "Let me try that differently."}), nil
			}},
		),
	})

	resp := o.Process(context.Background(), message("weekly report please"))
	require.True(t, resp.Success)
	assert.Equal(t, int32(1), fallbackCalls.Load())
	assert.Equal(t, "Let me try that differently.", resp.Reply)

	agg, ok := resp.Data.(*AggregatedResult)
	require.True(t, ok)
	assert.Len(t, agg.Failures, 2)
	assert.Len(t, agg.Successes, 1)
}

func TestProcess_NoSuccessStillReplies(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentGreeting),
		Registry:   mustRegistry(t, failWith(routing.HandlerConversation, "model down")),
	})

	resp := o.Process(context.Background(), message("hello"))
	assert.True(t, resp.Success)
	assert.Equal(t, FallbackReply, resp.Reply)
	assert.Contains(t, resp.Error, "model down")
}

func TestProcess_PlanRestrictedToRegistry(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentEmergency),
		Registry:   mustRegistry(t, succeedWith(routing.HandlerConversation, map[string]any{"reply": "Stay with her."})),
	})

	resp := o.Process(context.Background(), message("grandpa is unresponsive"))
	require.True(t, resp.Success)
	agg := resp.Data.(*AggregatedResult)
	assert.Len(t, agg.Successes, 1)
	assert.Empty(t, agg.Failures)
	assert.Nil(t, resp.Alert, "no alert handler registered")
}

func TestProcess_RecordsTurnsBestEffort(t *testing.T) {
	logs := &memoryLogs{}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentGreeting),
		Registry:   mustRegistry(t, succeedWith(routing.HandlerConversation, map[string]any{"reply": "Hi there!"})),
		Logs:       logs,
	})

	resp := o.Process(context.Background(), message("hi"))
	o.Recorder().Wait()

	require.Len(t, logs.logs, 2)
	assert.Equal(t, "user", logs.logs[0].Role)
	assert.Equal(t, "assistant", logs.logs[1].Role)
	assert.Equal(t, "Hi there!", logs.logs[1].Content)
	assert.Equal(t, resp.TraceID, logs.logs[0].TraceID)
	assert.Equal(t, "p1", logs.logs[0].PatientUID)
}

func TestProcess_RecorderFailureIsSwallowed(t *testing.T) {
	logs := &memoryLogs{err: errors.New("disk full")}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentGreeting),
		Registry:   mustRegistry(t, succeedWith(routing.HandlerConversation, map[string]any{"reply": "Hi!"})),
		Logs:       logs,
	})

	resp := o.Process(context.Background(), message("hi"))
	o.Recorder().Wait()

	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)
	select {
	case d := <-o.Recorder().Diagnostics():
		assert.Equal(t, "conversation_log", d.Operation)
		assert.EqualError(t, d.Err, "disk full")
	default:
		t.Fatal("expected a diagnostic entry")
	}
}

func TestProcess_PanicBecomesFailedResponse(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: fixedClassifier{panic: true},
		Registry:   mustRegistry(t, succeedWith(routing.HandlerConversation, nil)),
	})

	resp := o.Process(context.Background(), message("hi"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "classifier exploded")
	assert.Equal(t, FallbackReply, resp.Reply)
}

func TestProcess_CancelledContext(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Classifier: highConfidence(routing.IntentGreeting),
		Registry:   mustRegistry(t, succeedWith(routing.HandlerConversation, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := o.Process(ctx, message("hi"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "canceled")

	nilResp := o.Process(context.Background(), nil)
	assert.False(t, nilResp.Success)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Dependencies{})
	assert.Error(t, err)

	reg := mustRegistry(t)
	_, err = New(Config{Mode: "telepathy"}, Dependencies{Registry: reg})
	assert.Error(t, err)

	_, err = New(Config{AlertRules: []string{"1 + 1"}}, Dependencies{Registry: reg})
	assert.Error(t, err)

	o, err := New(Config{Mode: ModeUnified}, Dependencies{Registry: reg})
	require.NoError(t, err)
	assert.Equal(t, ModeMultiAgent, o.Mode(), "unified mode needs a model")
}

func TestUnified_SaveWithCriticalReadingAlerts(t *testing.T) {
	records := &memoryRecords{}
	probe := &alertProbe{}
	o := newTestOrchestrator(t, Config{Mode: ModeUnified}, Dependencies{
		Registry: mustRegistry(t, probe.handler()),
		LLM: &scriptedLLM{reply: "```json\n" + `{"intent":"vitals_log","action":"save","confidence":0.95,
			"health_data":{"type":"vitals","systolic":185,"diastolic":100},
			"reply":"Recorded her blood pressure."}` + "\n```"},
		Actions: action.NewExecutor(records, nil),
	})

	resp := o.Process(context.Background(), message("her bp is 185/100"))

	require.True(t, resp.Success)
	assert.Equal(t, ModeUnified, resp.Mode)
	assert.Equal(t, "vitals_log", resp.Intent)
	outcome, ok := resp.Data.(*action.Outcome)
	require.True(t, ok)
	assert.True(t, outcome.Success)
	require.NotEmpty(t, outcome.Alerts)
	assert.Equal(t, action.SeverityCritical, outcome.Alerts[0].Severity)
	require.Len(t, records.records, 1)
	assert.Equal(t, "vitals", records.records[0].Category)

	assert.Equal(t, int32(1), probe.calls.Load())
	assert.Equal(t, string(TriggerFlag), probe.trigger.Load())
	assert.Contains(t, resp.Reply, "Recorded her blood pressure.")
	assert.Contains(t, resp.Reply, "I've let the family know.")
}

func TestUnified_ModelFailureFallsBackToHeuristics(t *testing.T) {
	records := &memoryRecords{}
	o := newTestOrchestrator(t, Config{Mode: ModeUnified}, Dependencies{
		Registry: mustRegistry(t),
		LLM:      &scriptedLLM{err: errors.New("provider unavailable")},
		Actions:  action.NewExecutor(records, nil),
	})

	resp := o.Process(context.Background(), message("she took her pill"))

	require.True(t, resp.Success)
	outcome := resp.Data.(*action.Outcome)
	assert.Equal(t, "clarify", string(outcome.Kind))
	assert.Empty(t, records.records, "clarify never persists")
	assert.NotEqual(t, FallbackReply, resp.Reply)
}
