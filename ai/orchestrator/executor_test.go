package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/routing"
)

func testContext(text string) *conversation.ProcessingContext {
	return &conversation.ProcessingContext{
		Message: &conversation.Message{
			ID:      "m1",
			Content: text,
			Context: conversation.MessageContext{SenderID: "u1", PatientID: "p1", Source: conversation.SourceAPI},
		},
	}
}

func succeedWith(name routing.HandlerName, data map[string]any) Handler {
	return HandlerFunc{HandlerName: name, Fn: func(context.Context, *conversation.ProcessingContext) (*HandlerResult, error) {
		return Succeed(data), nil
	}}
}

func failWith(name routing.HandlerName, msg string) Handler {
	return HandlerFunc{HandlerName: name, Fn: func(context.Context, *conversation.ProcessingContext) (*HandlerResult, error) {
		return nil, errors.New(msg)
	}}
}

func mustRegistry(t *testing.T, handlers ...Handler) *Registry {
	t.Helper()
	r, err := NewRegistry(handlers...)
	require.NoError(t, err)
	return r
}

func TestRegistry(t *testing.T) {
	r := mustRegistry(t, succeedWith(routing.HandlerConversation, nil))

	err := r.Register(succeedWith(routing.HandlerConversation, nil))
	assert.Error(t, err, "duplicate names are rejected")

	err = r.Register(succeedWith("weather", nil))
	assert.Error(t, err, "unknown names are rejected")

	_, err = r.Get(routing.HandlerVitals)
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	assert.True(t, r.Has(routing.HandlerConversation))
	assert.Equal(t, []routing.HandlerName{routing.HandlerConversation}, r.Names())
}

func TestExecutor_SequentialStopsAtFirstSuccess(t *testing.T) {
	var thirdCalls atomic.Int32
	r := mustRegistry(t,
		failWith(routing.HandlerHealthLog, "boom"),
		succeedWith(routing.HandlerVitals, map[string]any{"reply": "ok"}),
		HandlerFunc{HandlerName: routing.HandlerConversation, Fn: func(context.Context, *conversation.ProcessingContext) (*HandlerResult, error) {
			thirdCalls.Add(1)
			return Succeed(nil), nil
		}},
	)
	e := NewExecutor(r, ExecutorConfig{}, nil)

	plan := routing.RoutingPlan{Handlers: []routing.HandlerName{routing.HandlerHealthLog, routing.HandlerVitals, routing.HandlerConversation}}
	results := e.Execute(context.Background(), plan, testContext("x"), RoutingMeta{})

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, "boom", results[0].Error)
	assert.True(t, results[1].Success)
	assert.Zero(t, thirdCalls.Load())
}

func TestExecutor_ParallelSettlesEveryHandler(t *testing.T) {
	r := mustRegistry(t,
		succeedWith(routing.HandlerConversation, map[string]any{"reply": "hello"}),
		succeedWith(routing.HandlerHealthLog, map[string]any{"saved": true}),
		HandlerFunc{HandlerName: routing.HandlerSymptom, Fn: func(context.Context, *conversation.ProcessingContext) (*HandlerResult, error) {
			panic("symptom handler exploded")
		}},
		HandlerFunc{HandlerName: routing.HandlerVitals, Fn: func(ctx context.Context, _ *conversation.ProcessingContext) (*HandlerResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	)
	e := NewExecutor(r, ExecutorConfig{HandlerTimeout: 50 * time.Millisecond, MaxParallel: 2}, nil)

	plan := routing.RoutingPlan{
		Parallel: true,
		Handlers: []routing.HandlerName{routing.HandlerVitals, routing.HandlerConversation, routing.HandlerSymptom, routing.HandlerHealthLog},
	}
	results := e.Execute(context.Background(), plan, testContext("x"), RoutingMeta{})

	require.Len(t, results, 4)
	for i, name := range plan.Handlers {
		assert.Equal(t, name, results[i].Handler, "results keep plan order")
	}
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "deadline")
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "panicked")

	agg := Aggregate(results)
	assert.Len(t, agg.Successes, 2)
	assert.Len(t, agg.Failures, 2)
}

func TestExecutor_SkipsUnregisteredHandlers(t *testing.T) {
	r := mustRegistry(t, succeedWith(routing.HandlerConversation, nil))
	e := NewExecutor(r, ExecutorConfig{}, nil)

	for _, parallel := range []bool{true, false} {
		plan := routing.RoutingPlan{
			Parallel: parallel,
			Handlers: []routing.HandlerName{routing.HandlerSymptom, routing.HandlerConversation},
		}
		results := e.Execute(context.Background(), plan, testContext("x"), RoutingMeta{})
		require.Len(t, results, 1)
		assert.Equal(t, routing.HandlerConversation, results[0].Handler)
	}
	assert.Nil(t, e.Invoke(context.Background(), routing.HandlerAlert, testContext("x"), nil))
}

func TestExecutor_EnrichesHandlerContext(t *testing.T) {
	var seen map[string]any
	r := mustRegistry(t, HandlerFunc{HandlerName: routing.HandlerVitals, Fn: func(_ context.Context, pc *conversation.ProcessingContext) (*HandlerResult, error) {
		seen = pc.Message.Metadata
		return Succeed(nil), nil
	}})
	e := NewExecutor(r, ExecutorConfig{}, nil)

	pc := testContext("bp 150/95")
	cls := routing.Classification{
		Intent:     routing.IntentVitalsLog,
		Confidence: 0.9,
		Method:     routing.MethodPattern,
		Entities:   map[string]any{"systolic": 150.0},
	}
	plan := routing.Plan(cls)
	plan.Handlers = []routing.HandlerName{routing.HandlerVitals}
	e.Execute(context.Background(), plan, pc, RoutingMeta{Classification: cls, TraceID: "t1"})

	require.NotNil(t, seen)
	assert.Equal(t, "vitals_log", seen[MetaIntent])
	assert.Equal(t, 0.9, seen[MetaConfidence])
	assert.Equal(t, "pattern", seen[MetaMethod])
	assert.Equal(t, "vitals", seen[MetaHandler])
	assert.Equal(t, "vitals", seen[MetaCard])
	assert.Equal(t, "t1", seen[MetaTraceID])
	assert.Nil(t, pc.Message.Metadata, "the caller's context is not mutated")
}

func TestNormalize(t *testing.T) {
	res := normalize(routing.HandlerQuery, &HandlerResult{Success: true, Error: "stale"}, nil, time.Second)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.NotNil(t, res.Data)
	assert.Equal(t, routing.HandlerQuery, res.Handler)

	res = normalize(routing.HandlerQuery, &HandlerResult{Data: map[string]any{"x": 1}}, nil, 0)
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.NotEmpty(t, res.Error)

	res = normalize(routing.HandlerQuery, nil, nil, 0)
	assert.False(t, res.Success)
}

func TestAggregate_LaterPayloadOverwrites(t *testing.T) {
	agg := Aggregate([]*HandlerResult{
		{Handler: routing.HandlerVitals, Success: true, Data: map[string]any{"reply": "first", "systolic": 150}},
		{Handler: routing.HandlerHealthLog, Error: "failed"},
		{Handler: routing.HandlerConversation, Success: true, Data: map[string]any{"reply": "second"}},
	})

	assert.Equal(t, "second", agg.Reply())
	assert.Equal(t, 150, agg.Combined["systolic"])
	assert.True(t, agg.Succeeded(routing.HandlerVitals))
	assert.False(t, agg.Succeeded(routing.HandlerHealthLog))
	assert.True(t, agg.Ran(routing.HandlerHealthLog))
	assert.Equal(t, []string{"health_log: failed"}, agg.Errors())
}
