package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/store"
)

// NLU modes.
const (
	ModeMultiAgent = "multi_agent"
	ModeUnified    = "unified"
)

// FallbackReply is returned when no handler produced a reply.
const FallbackReply = "Sorry, I couldn't process that just now. Please try again in a moment."

// Classifier resolves the intent of a message. *routing.Resolver satisfies it.
type Classifier interface {
	Classify(ctx context.Context, pc *conversation.ProcessingContext) routing.Classification
}

// Config configures the orchestrator.
type Config struct {
	// Mode is ModeMultiAgent (default) or ModeUnified.
	Mode     string
	Executor ExecutorConfig
	// AlertRules are CEL expressions OR-ed with the built-in alert triggers.
	AlertRules []string

	// UnifiedModel and UnifiedMaxTokens tune the single-call path.
	UnifiedModel     string
	UnifiedMaxTokens int
}

// Dependencies are the collaborators of an Orchestrator. Only Registry is
// required; Classifier defaults to a pattern-only resolver.
type Dependencies struct {
	Builder    *conversation.Builder
	Classifier Classifier
	Registry   *Registry
	LLM        llm.Service
	Actions    *action.Executor
	Logs       LogWriter
	Metrics    *metrics.PrometheusExporter
}

// Response is the outcome of processing one message.
type Response struct {
	Success bool   `json:"success"`
	TraceID string `json:"trace_id"`
	Mode    string `json:"mode"`
	Intent  string `json:"intent,omitempty"`
	Reply   string `json:"reply"`

	// Data is an *AggregatedResult in multi-agent mode and an *action.Outcome in unified mode.
	Data  any            `json:"data,omitempty"`
	Alert *HandlerResult `json:"alert,omitempty"`
	Error string         `json:"error,omitempty"`

	ProcessingTime time.Duration `json:"processing_time"`
}

// Orchestrator is the single entry point of the engine.
type Orchestrator struct {
	config     Config
	builder    *conversation.Builder
	classifier Classifier
	registry   *Registry
	executor   *Executor
	alerts     *AlertEvaluator
	llm        llm.Service
	actions    *action.Executor
	recorder   *Recorder
	metrics    *metrics.PrometheusExporter
}

// New creates an orchestrator. Invalid alert rules fail construction.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("handler registry is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeMultiAgent
	case ModeMultiAgent, ModeUnified:
	default:
		return nil, fmt.Errorf("unknown nlu mode %q", cfg.Mode)
	}
	if cfg.UnifiedMaxTokens <= 0 {
		cfg.UnifiedMaxTokens = 512
	}

	alerts, err := NewAlertEvaluator(cfg.AlertRules)
	if err != nil {
		return nil, err
	}

	builder := deps.Builder
	if builder == nil {
		builder = conversation.NewBuilder(nil, conversation.BuilderConfig{})
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = routing.NewResolver(routing.ResolverConfig{})
	}
	actions := deps.Actions
	if actions == nil {
		actions = action.NewExecutor(nil, deps.Metrics)
	}
	if cfg.Mode == ModeUnified && deps.LLM == nil {
		slog.Warn("unified nlu mode without a language model, using multi-agent routing")
		cfg.Mode = ModeMultiAgent
	}

	return &Orchestrator{
		config:     cfg,
		builder:    builder,
		classifier: classifier,
		registry:   deps.Registry,
		executor:   NewExecutor(deps.Registry, cfg.Executor, deps.Metrics),
		alerts:     alerts,
		llm:        deps.LLM,
		actions:    actions,
		recorder:   NewRecorder(deps.Logs, RecorderConfig{}, deps.Metrics),
		metrics:    deps.Metrics,
	}, nil
}

// Mode returns the active NLU mode.
func (o *Orchestrator) Mode() string {
	return o.config.Mode
}

// Recorder returns the best-effort log recorder.
func (o *Orchestrator) Recorder() *Recorder {
	return o.recorder
}

// Process builds the processing context for msg and runs the pipeline.
func (o *Orchestrator) Process(ctx context.Context, msg *conversation.Message) *Response {
	return o.guarded(ctx, func(traceID string) (*Response, error) {
		if msg == nil {
			return nil, errors.New("message is required")
		}
		pc := o.builder.Build(ctx, msg)
		return o.dispatch(ctx, pc, traceID)
	})
}

// ProcessContext runs the pipeline over an already built context.
func (o *Orchestrator) ProcessContext(ctx context.Context, pc *conversation.ProcessingContext) *Response {
	return o.guarded(ctx, func(traceID string) (*Response, error) {
		if pc == nil || pc.Message == nil {
			return nil, errors.New("processing context with a message is required")
		}
		return o.dispatch(ctx, pc, traceID)
	})
}

// guarded converts panics and errors into a failed Response. It is the only
// place a failure is surfaced to the caller.
func (o *Orchestrator) guarded(ctx context.Context, run func(traceID string) (*Response, error)) (resp *Response) {
	start := time.Now()
	traceID := shortuuid.New()
	mode := o.config.Mode

	finish := func(r *Response) *Response {
		r.TraceID = traceID
		r.Mode = mode
		r.ProcessingTime = time.Since(start)
		o.metrics.RecordPipeline(mode, r.ProcessingTime, r.Success)
		slog.Info("orchestrator: message processed",
			"trace_id", traceID,
			"mode", mode,
			"intent", r.Intent,
			"success", r.Success,
			"duration_ms", r.ProcessingTime.Milliseconds())
		return r
	}
	failed := func(err error) *Response {
		return finish(&Response{Success: false, Reply: FallbackReply, Error: err.Error()})
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("orchestrator: pipeline panicked",
				"trace_id", traceID,
				"panic", p,
				"stack", string(debug.Stack()))
			resp = failed(fmt.Errorf("pipeline panic: %v", p))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	r, err := run(traceID)
	if err != nil {
		slog.Warn("orchestrator: pipeline failed", "trace_id", traceID, "error", err)
		return failed(err)
	}
	return finish(r)
}

func (o *Orchestrator) dispatch(ctx context.Context, pc *conversation.ProcessingContext, traceID string) (*Response, error) {
	if o.config.Mode == ModeUnified {
		return o.runUnified(ctx, pc, traceID)
	}
	return o.runMultiAgent(ctx, pc, traceID)
}

func (o *Orchestrator) runMultiAgent(ctx context.Context, pc *conversation.ProcessingContext, traceID string) (*Response, error) {
	cls := o.classifier.Classify(ctx, pc)
	o.metrics.RecordClassification(string(cls.Method), cls.Intent.String())

	plan := routing.Plan(cls).Restrict(o.registry)
	o.metrics.RecordPlan(plan.Mode())
	slog.Debug("orchestrator: plan ready",
		"trace_id", traceID,
		"intent", cls.Intent,
		"confidence", cls.Confidence,
		"method", cls.Method,
		"handlers", plan.Handlers,
		"mode", plan.Mode())

	meta := RoutingMeta{Classification: cls, TraceID: traceID}
	agg := Aggregate(o.executor.Execute(ctx, plan, pc, meta))

	if !agg.HasSuccess() && plan.Fallback != "" && !agg.Ran(plan.Fallback) && ctx.Err() == nil {
		slog.Debug("orchestrator: running fallback handler", "trace_id", traceID, "handler", plan.Fallback)
		if fb := o.executor.Invoke(ctx, plan.Fallback, pc, routingMetadata(plan, meta)); fb != nil {
			agg.merge([]*HandlerResult{fb})
		}
	}

	o.evaluateAlert(ctx, pc, cls.Intent, agg, routingMetadata(plan, meta))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{
		Success: true,
		Intent:  cls.Intent.String(),
		Reply:   composeReply([]string{agg.Reply()}, agg.Alert),
		Data:    agg,
		Alert:   agg.Alert,
	}
	if !agg.HasSuccess() {
		resp.Error = strings.Join(agg.Errors(), "; ")
	}
	o.record(ctx, pc, traceID, resp)
	return resp, nil
}

// evaluateAlert runs the alert evaluator once and fires the alert handler when
// it triggers, unless the alert handler already succeeded in this pass.
func (o *Orchestrator) evaluateAlert(ctx context.Context, pc *conversation.ProcessingContext, intent routing.Intent, agg *AggregatedResult, base map[string]any) {
	if agg.Succeeded(routing.HandlerAlert) {
		return
	}
	decision := o.alerts.ShouldAlert(pc.Message.Content, intent, agg)
	if !decision.Fire {
		return
	}
	o.metrics.RecordAlert(string(decision.Trigger))
	slog.Warn("orchestrator: alert triggered",
		"trace_id", base[MetaTraceID],
		"patient_id", pc.PatientID(),
		"trigger", decision.Trigger,
		"reason", decision.Reason)

	extra := maps.Clone(base)
	if extra == nil {
		extra = map[string]any{}
	}
	extra[MetaAlertTrigger] = string(decision.Trigger)
	extra[MetaAlertReason] = decision.Reason
	extra[MetaAlertPayload] = maps.Clone(agg.Combined)

	res := o.executor.Invoke(ctx, routing.HandlerAlert, pc, extra)
	if res == nil {
		slog.Warn("orchestrator: alert triggered but no alert handler registered", "trace_id", base[MetaTraceID])
		return
	}
	agg.Alert = res
}

// composeReply joins the non-empty reply parts and the alert handler's reply.
func composeReply(parts []string, alert *HandlerResult) string {
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if alert != nil && alert.Success {
		if s, _ := alert.Data["reply"].(string); strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	if len(out) == 0 {
		return FallbackReply
	}
	return strings.Join(out, "\n\n")
}

// record logs the user turn and the reply after the response is computed.
func (o *Orchestrator) record(ctx context.Context, pc *conversation.ProcessingContext, traceID string, resp *Response) {
	mc := pc.Message.Context
	now := time.Now().Unix()
	o.recorder.Record(ctx, traceID,
		&store.ConversationLog{
			PatientUID: mc.PatientID,
			SessionID:  mc.SessionID,
			SenderID:   mc.SenderID,
			Role:       "user",
			Content:    pc.Message.AttributedContent(),
			Intent:     resp.Intent,
			CreatedTs:  now,
		},
		&store.ConversationLog{
			PatientUID: mc.PatientID,
			SessionID:  mc.SessionID,
			Role:       "assistant",
			Content:    resp.Reply,
			Intent:     resp.Intent,
			CreatedTs:  now,
		},
	)
}
