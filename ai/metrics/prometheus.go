// Package metrics provides Prometheus metrics export for the orchestration engine.
//
// Every Record method is safe on a nil *PrometheusExporter, so components can
// take an optional exporter without guarding each call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "caresense"
	subsystem = "engine"
)

// PrometheusExporter exports engine metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	pipelineLatency  *prometheus.HistogramVec
	pipelineRequests *prometheus.CounterVec

	classifications *prometheus.CounterVec
	plans           *prometheus.CounterVec

	handlerLatency *prometheus.HistogramVec
	handlerResults *prometheus.CounterVec

	alerts         *prometheus.CounterVec
	actions        *prometheus.CounterVec
	abnormal       *prometheus.CounterVec
	bestEffortFail *prometheus.CounterVec

	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec

	webhookEvents *prometheus.CounterVec
}

// Webhook delivery events, one counter series per platform and event.
const (
	WebhookReceived   = "received"
	WebhookRejected   = "rejected"
	WebhookIgnored    = "ignored"
	WebhookParseError = "parse_error"
	WebhookReplied    = "replied"
	WebhookReplyError = "reply_error"
)

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: cfg.LatencyBuckets,
		}, labels)
	}

	e := &PrometheusExporter{
		registry:         registry,
		pipelineLatency:  histogram("pipeline_latency_seconds", "End-to-end message processing latency in seconds", "mode"),
		pipelineRequests: counter("pipeline_requests_total", "Total processed messages", "mode", "status"),
		classifications:  counter("classifications_total", "Intent classifications by method and intent", "method", "intent"),
		plans:            counter("plans_total", "Routing plans by execution mode", "mode"),
		handlerLatency:   histogram("handler_latency_seconds", "Handler invocation latency in seconds", "handler"),
		handlerResults:   counter("handler_results_total", "Handler invocations by outcome", "handler", "status"),
		alerts:           counter("alerts_total", "Alerts fired by trigger", "trigger"),
		actions:          counter("actions_total", "Resolved actions by kind and outcome", "kind", "status"),
		abnormal:         counter("abnormal_readings_total", "Abnormal vital readings by category and severity", "category", "severity"),
		bestEffortFail:   counter("best_effort_failures_total", "Swallowed best-effort side effect failures", "operation"),
		llmTokens:        counter("llm_tokens_total", "Total LLM tokens consumed", "model", "token_type"),
		llmLatency:       histogram("llm_latency_seconds", "LLM request latency in seconds", "model"),
		webhookEvents:    counter("webhook_events_total", "Chat platform webhook deliveries by event", "platform", "event"),
	}

	registry.MustRegister(
		e.pipelineLatency,
		e.pipelineRequests,
		e.classifications,
		e.plans,
		e.handlerLatency,
		e.handlerResults,
		e.alerts,
		e.actions,
		e.abnormal,
		e.bestEffortFail,
		e.llmTokens,
		e.llmLatency,
		e.webhookEvents,
	)
	return e
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordPipeline records a processed message.
func (e *PrometheusExporter) RecordPipeline(mode string, latency time.Duration, success bool) {
	if e == nil {
		return
	}
	e.pipelineRequests.WithLabelValues(mode, status(success)).Inc()
	e.pipelineLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// RecordClassification records an intent classification.
func (e *PrometheusExporter) RecordClassification(method, intent string) {
	if e == nil {
		return
	}
	e.classifications.WithLabelValues(method, intent).Inc()
}

// RecordPlan records a routing plan by mode.
func (e *PrometheusExporter) RecordPlan(mode string) {
	if e == nil {
		return
	}
	e.plans.WithLabelValues(mode).Inc()
}

// RecordHandler records one handler invocation.
func (e *PrometheusExporter) RecordHandler(handler string, latency time.Duration, success bool) {
	if e == nil {
		return
	}
	e.handlerResults.WithLabelValues(handler, status(success)).Inc()
	e.handlerLatency.WithLabelValues(handler).Observe(latency.Seconds())
}

// RecordAlert records a fired alert.
func (e *PrometheusExporter) RecordAlert(trigger string) {
	if e == nil {
		return
	}
	e.alerts.WithLabelValues(trigger).Inc()
}

// RecordAction records a resolved action.
func (e *PrometheusExporter) RecordAction(kind string, success bool) {
	if e == nil {
		return
	}
	e.actions.WithLabelValues(kind, status(success)).Inc()
}

// RecordAbnormal records an abnormal vital reading.
func (e *PrometheusExporter) RecordAbnormal(category, severity string) {
	if e == nil {
		return
	}
	e.abnormal.WithLabelValues(category, severity).Inc()
}

// RecordBestEffortFailure records a swallowed side effect failure.
func (e *PrometheusExporter) RecordBestEffortFailure(operation string) {
	if e == nil {
		return
	}
	e.bestEffortFail.WithLabelValues(operation).Inc()
}

// RecordLLM records token usage and latency of one completion.
func (e *PrometheusExporter) RecordLLM(model string, promptTokens, completionTokens int, latency time.Duration) {
	if e == nil {
		return
	}
	e.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	e.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordWebhook records one webhook delivery event for platform.
func (e *PrometheusExporter) RecordWebhook(platform, event string) {
	if e == nil {
		return
	}
	e.webhookEvents.WithLabelValues(platform, event).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// Registry returns the Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}
