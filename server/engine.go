package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/handlers"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/internal/profile"
	"github.com/hrygo/caresense/plugin/alertbus"
	"github.com/hrygo/caresense/plugin/chat_apps/channels"
	"github.com/hrygo/caresense/plugin/chat_apps/channels/telegram"
	"github.com/hrygo/caresense/store"
)

// Engine is the wired orchestration engine and its delivery side.
type Engine struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *channels.ChannelRouter
	Bus          *alertbus.Publisher
	Metrics      *metrics.PrometheusExporter
}

// NewEngine wires the engine from the profile. Optional integrations (LLM,
// Telegram, NATS) that fail to initialise are logged and left out.
func NewEngine(ctx context.Context, p *profile.Profile, st *store.Store) (*Engine, error) {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

	var svc llm.Service
	if p.IsAIEnabled() {
		var err error
		svc, err = llm.NewService(&llm.Config{
			Provider:          p.LLMProvider,
			Model:             p.LLMModel,
			APIKey:            p.LLMAPIKey,
			BaseURL:           p.LLMBaseURL,
			Timeout:           p.LLMTimeout,
			RequestsPerSecond: p.LLMRequestsPerSecond,
		})
		if err != nil {
			slog.Warn("Failed to initialize LLM service", "provider", p.LLMProvider, "error", err)
			svc = nil
		} else {
			slog.Info("LLM service initialized", "provider", p.LLMProvider, "model", p.LLMModel)
			go func() {
				warmupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				svc.Warmup(warmupCtx)
			}()
		}
	}

	matcher := routing.NewPatternMatcher()
	if p.IntentPatternsFile != "" {
		if err := matcher.LoadFile(p.IntentPatternsFile); err != nil {
			return nil, errors.Wrapf(err, "load intent patterns %s", p.IntentPatternsFile)
		}
	}
	resolver := routing.NewResolver(routing.ResolverConfig{Matcher: matcher, LLM: svc, Model: p.IntentModel})

	router := channels.NewChannelRouter()
	if p.TelegramBotToken != "" {
		ch, err := telegram.NewTelegramChannel(&telegram.TelegramConfig{
			BotToken:      p.TelegramBotToken,
			WebhookSecret: p.TelegramWebhookSecret,
		})
		if err != nil {
			slog.Warn("Failed to initialize Telegram channel", "error", err)
		} else {
			router.Register(ch)
		}
	}

	var bus *alertbus.Publisher
	if p.NATSURL != "" {
		var err error
		bus, err = alertbus.Connect(p.NATSURL, p.NATSSubject)
		if err != nil {
			slog.Warn("Failed to connect alert bus", "url", p.NATSURL, "error", err)
			bus = nil
		}
	}

	actions := action.NewExecutor(st, exporter)
	deps := handlers.Deps{
		LLM:     svc,
		Records: st,
		Actions: actions,
		Alerts:  st,
		Gateway: router,
		Metrics: exporter,
	}
	if bus != nil {
		deps.Bus = bus
	}
	registry, err := orchestrator.NewRegistry(handlers.All(deps)...)
	if err != nil {
		return nil, errors.Wrap(err, "register handlers")
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Mode: p.NLUMode,
		Executor: orchestrator.ExecutorConfig{
			HandlerTimeout: time.Duration(p.HandlerTimeout) * time.Second,
			MaxParallel:    p.MaxParallel,
		},
		AlertRules:   p.AlertRules,
		UnifiedModel: p.LLMModel,
	}, orchestrator.Dependencies{
		Builder:    conversation.NewBuilder(conversation.NewStoreSource(st), conversation.DefaultBuilderConfig()),
		Classifier: resolver,
		Registry:   registry,
		LLM:        svc,
		Actions:    actions,
		Logs:       st,
		Metrics:    exporter,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create orchestrator")
	}

	return &Engine{Orchestrator: orch, Router: router, Bus: bus, Metrics: exporter}, nil
}

// Close releases the delivery side and waits for pending best-effort writes.
func (e *Engine) Close() error {
	if rec := e.Orchestrator.Recorder(); rec != nil {
		rec.Wait()
	}
	var firstErr error
	if err := e.Router.Close(); err != nil {
		firstErr = err
	}
	if err := e.Bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
