package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/routing"
)

// Routing metadata keys merged into the message metadata of every handler call.
const (
	MetaIntent     = "intent"
	MetaSubIntent  = "sub_intent"
	MetaConfidence = "confidence"
	MetaEntities   = "entities"
	MetaMethod     = "method"
	MetaHandler    = "handler"
	MetaMode       = "mode"
	MetaCard       = "card"
	MetaTraceID    = "trace_id"
)

// ExecutorConfig configures handler execution.
type ExecutorConfig struct {
	// HandlerTimeout bounds each handler call (default: 30s).
	HandlerTimeout time.Duration
	// MaxParallel bounds concurrent handlers in parallel plans (default: 4).
	MaxParallel int
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{HandlerTimeout: 30 * time.Second, MaxParallel: 4}
}

// RoutingMeta is what the executor tells handlers about routing.
type RoutingMeta struct {
	Classification routing.Classification
	TraceID        string
}

// Executor invokes the handlers of a plan.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	metrics  *metrics.PrometheusExporter
}

// NewExecutor creates a new executor over registry. exporter may be nil.
func NewExecutor(registry *Registry, cfg ExecutorConfig, exporter *metrics.PrometheusExporter) *Executor {
	def := DefaultExecutorConfig()
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	return &Executor{registry: registry, config: cfg, metrics: exporter}
}

// Execute runs the plan and returns one result per invoked handler, in plan
// order. Handlers absent from the registry are skipped. Parallel plans wait
// for every handler to settle; sequential plans stop at the first success.
func (e *Executor) Execute(ctx context.Context, plan routing.RoutingPlan, pc *conversation.ProcessingContext, meta RoutingMeta) []*HandlerResult {
	base := routingMetadata(plan, meta)
	if plan.Parallel && len(plan.Handlers) > 1 {
		return e.executeParallel(ctx, plan.Handlers, pc, base)
	}
	return e.executeSequential(ctx, plan.Handlers, pc, base)
}

// Invoke runs a single handler by name with the same guarantees as a plan step.
// It returns nil when the handler is not registered.
func (e *Executor) Invoke(ctx context.Context, name routing.HandlerName, pc *conversation.ProcessingContext, extra map[string]any) *HandlerResult {
	h, err := e.registry.Get(name)
	if err != nil {
		slog.Debug("executor: skipping unregistered handler", "handler", name)
		return nil
	}
	return e.invoke(ctx, h, pc, extra)
}

func (e *Executor) executeParallel(ctx context.Context, names []routing.HandlerName, pc *conversation.ProcessingContext, base map[string]any) []*HandlerResult {
	sem := semaphore.NewWeighted(int64(e.config.MaxParallel))
	slots := make([]*HandlerResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		h, err := e.registry.Get(name)
		if err != nil {
			slog.Debug("executor: skipping unregistered handler", "handler", name)
			continue
		}

		wg.Add(1)
		go func(idx int, h Handler) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				slots[idx] = normalize(h.Name(), nil, fmt.Errorf("handler %s not started: %w", h.Name(), err), 0)
				return
			}
			defer sem.Release(1)
			slots[idx] = e.invoke(ctx, h, pc, base)
		}(i, h)
	}
	wg.Wait()

	results := make([]*HandlerResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	return results
}

func (e *Executor) executeSequential(ctx context.Context, names []routing.HandlerName, pc *conversation.ProcessingContext, base map[string]any) []*HandlerResult {
	results := make([]*HandlerResult, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			slog.Warn("executor: sequential execution cancelled", "remaining_from", name)
			break
		}
		h, err := e.registry.Get(name)
		if err != nil {
			slog.Debug("executor: skipping unregistered handler", "handler", name)
			continue
		}
		res := e.invoke(ctx, h, pc, base)
		results = append(results, res)
		if res.Success {
			break
		}
	}
	return results
}

type handlerOutcome struct {
	res *HandlerResult
	err error
}

// invoke calls h under the handler timeout, converting errors, panics and
// timeouts into failed results.
func (e *Executor) invoke(ctx context.Context, h Handler, pc *conversation.ProcessingContext, base map[string]any) *HandlerResult {
	name := h.Name()
	start := time.Now()

	extra := make(map[string]any, len(base)+1)
	for k, v := range base {
		extra[k] = v
	}
	extra[MetaHandler] = string(name)
	enriched := pc.Enrich(extra)

	callCtx, cancel := context.WithTimeout(ctx, e.config.HandlerTimeout)
	defer cancel()

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("executor: handler panicked",
					"handler", name,
					"panic", r,
					"stack", string(debug.Stack()))
				done <- handlerOutcome{err: fmt.Errorf("handler %s panicked: %v", name, r)}
			}
		}()
		res, err := h.Handle(callCtx, enriched)
		done <- handlerOutcome{res: res, err: err}
	}()

	var out handlerOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = handlerOutcome{err: fmt.Errorf("handler %s: %w", name, callCtx.Err())}
	}

	res := normalize(name, out.res, out.err, time.Since(start))
	if !res.Success {
		slog.Warn("executor: handler failed",
			"handler", name,
			"error", res.Error,
			"trace_id", base[MetaTraceID],
			"duration_ms", res.Elapsed.Milliseconds())
	} else {
		slog.Debug("executor: handler completed",
			"handler", name,
			"trace_id", base[MetaTraceID],
			"duration_ms", res.Elapsed.Milliseconds())
	}
	e.metrics.RecordHandler(string(name), res.Elapsed, res.Success)
	return res
}

func routingMetadata(plan routing.RoutingPlan, meta RoutingMeta) map[string]any {
	cls := meta.Classification
	m := map[string]any{
		MetaIntent:     cls.Intent.String(),
		MetaConfidence: cls.Confidence,
		MetaMethod:     string(cls.Method),
		MetaMode:       plan.Mode(),
		MetaTraceID:    meta.TraceID,
	}
	if cls.SubIntent != "" {
		m[MetaSubIntent] = cls.SubIntent
	}
	if len(cls.Entities) > 0 {
		m[MetaEntities] = cls.Entities
	}
	if plan.Card != routing.CardNone {
		m[MetaCard] = string(plan.Card)
	}
	return m
}
