// Package handlers implements the specialised handlers the orchestrator
// dispatches to: conversation, record keeping, queries, reports and alerts.
//
// Handlers read routing metadata (intent, confidence, entities) from the
// message metadata and never mutate the processing context they receive.
package handlers

import (
	"context"
	"strings"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/plugin/alertbus"
	"github.com/hrygo/caresense/plugin/chat_apps"
	"github.com/hrygo/caresense/store"
)

// AlertStore persists fired alerts. *store.Store satisfies it.
type AlertStore interface {
	CreateAlertRecord(ctx context.Context, create *store.AlertRecord) (*store.AlertRecord, error)
}

// Gateway delivers messages to caregivers. *channels.ChannelRouter satisfies it.
type Gateway interface {
	SendResponse(ctx context.Context, platform chat_apps.Platform, msg *chat_apps.OutgoingMessage) error
}

// EventPublisher fans alert events out to other services. *alertbus.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, ev *alertbus.Event) error
}

// Deps are the collaborators shared by the built-in handlers. Every field may be nil.
type Deps struct {
	LLM     llm.Service
	Records action.Persistence
	Actions *action.Executor
	Alerts  AlertStore
	Gateway Gateway
	Bus     EventPublisher
	Metrics *metrics.PrometheusExporter
}

// All returns one instance of every built-in handler.
func All(deps Deps) []orchestrator.Handler {
	if deps.Actions == nil {
		deps.Actions = action.NewExecutor(deps.Records, deps.Metrics)
	}
	return []orchestrator.Handler{
		NewConversation(deps.LLM, deps.Metrics),
		NewHealthLog(deps.LLM, deps.Actions, deps.Metrics),
		NewVitals(deps.LLM, deps.Actions, deps.Metrics),
		NewMedication(deps.LLM, deps.Actions, deps.Metrics),
		NewSymptom(deps.LLM, deps.Actions, deps.Metrics),
		NewQuery(deps.Actions),
		NewReport(deps.Records, deps.LLM, deps.Metrics),
		NewAlert(deps.Alerts, deps.Gateway, deps.Bus),
	}
}

func metaString(pc *conversation.ProcessingContext, key string) string {
	s, _ := pc.Message.Metadata[key].(string)
	return s
}

func metaFloat(pc *conversation.ProcessingContext, key string) float64 {
	f, _ := pc.Message.Metadata[key].(float64)
	return f
}

func metaMap(pc *conversation.ProcessingContext, key string) map[string]any {
	m, _ := pc.Message.Metadata[key].(map[string]any)
	return m
}

func intentOf(pc *conversation.ProcessingContext) routing.Intent {
	i, _ := routing.ParseIntent(metaString(pc, orchestrator.MetaIntent))
	return i
}

// traceOf returns the trace id stamped by the executor.
func traceOf(pc *conversation.ProcessingContext) string {
	return metaString(pc, orchestrator.MetaTraceID)
}

// patientLabel names the patient for replies.
func patientLabel(pc *conversation.ProcessingContext) string {
	if name := strings.TrimSpace(pc.PatientName()); name != "" {
		return name
	}
	return "your family member"
}

// complete runs one completion and records its usage.
func complete(ctx context.Context, svc llm.Service, exporter *metrics.PrometheusExporter, req llm.Request) (string, error) {
	resp, err := svc.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	exporter.RecordLLM(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Duration)
	return resp.Content, nil
}
