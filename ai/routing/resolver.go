package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/filter"
	"github.com/hrygo/caresense/ai/internal/strutil"
	"github.com/hrygo/caresense/ai/nlu"
)

// ResolverConfig configures the intent resolver.
type ResolverConfig struct {
	Matcher *PatternMatcher // defaults to NewPatternMatcher()
	LLM     llm.Service     // optional; without it only the pattern path runs
	Model   string          // classifier model; empty uses the service default

	// MaxTokens bounds the classification reply (default: 256).
	MaxTokens int
}

// Resolver classifies messages: patterns first, then the model.
type Resolver struct {
	matcher   *PatternMatcher
	llm       llm.Service
	model     string
	maxTokens int
}

// NewResolver creates a new intent resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = NewPatternMatcher()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Resolver{
		matcher:   matcher,
		llm:       cfg.LLM,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Classify resolves the intent of the context's message. It never fails:
// a model error yields a zero-confidence unknown classification.
func (r *Resolver) Classify(ctx context.Context, pc *conversation.ProcessingContext) Classification {
	start := time.Now()
	text := pc.Message.Content

	pattern := r.matcher.Match(text)
	if pattern.Confidence > PatternThreshold {
		slog.Debug("intent classified by pattern",
			"input", strutil.Truncate(filter.Redact(text), 50),
			"intent", pattern.Intent,
			"confidence", pattern.Confidence,
			"latency_ms", time.Since(start).Milliseconds())
		return pattern
	}

	if r.llm == nil {
		slog.Debug("no pattern match and no classifier model", "input", strutil.Truncate(filter.Redact(text), 50))
		return errorClassification()
	}

	completion, err := r.llm.Complete(ctx, llm.Request{
		Model:       r.model,
		Messages:    llm.FormatMessages(classifySystemPrompt, buildClassifyInput(pc), nil),
		MaxTokens:   r.maxTokens,
		Temperature: llm.Temperature(0.1),
	})
	if err != nil {
		slog.Warn("intent classification model call failed",
			"input", strutil.Truncate(filter.Redact(text), 50),
			"error", err,
			"latency_ms", time.Since(start).Milliseconds())
		return errorClassification()
	}

	res := nlu.Parse(completion.Content, text)
	cls := Classification{
		Intent:     FromNLU(res.Intent),
		SubIntent:  res.SubIntent,
		Confidence: res.Confidence,
		Entities:   res.Entities,
		Result:     res,
	}
	switch res.Source {
	case nlu.SourceModel:
		cls.Method = MethodModel
	case nlu.SourceHeuristic:
		cls.Method = MethodFallback
	default:
		cls = errorClassification()
	}

	slog.Debug("intent classified by model",
		"input", strutil.Truncate(filter.Redact(text), 50),
		"intent", cls.Intent,
		"confidence", cls.Confidence,
		"method", cls.Method,
		"repairs", len(res.Repairs),
		"latency_ms", time.Since(start).Milliseconds())
	return cls
}
