package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/filter"
	"github.com/hrygo/caresense/ai/internal/strutil"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
)

// ErrNoModel is returned by record handlers that need extraction but have no model.
var ErrNoModel = errors.New("no language model configured for record extraction")

// recordHandler extracts a health record from the message and runs the
// resulting action. The health_log, vitals, medication and symptom handlers
// are all built on it.
type recordHandler struct {
	name    routing.HandlerName
	focus   nlu.Category
	llm     llm.Service
	actions *action.Executor
	metrics *metrics.PrometheusExporter
}

func (h *recordHandler) Name() routing.HandlerName { return h.name }

func (h *recordHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	res, err := h.extract(ctx, pc)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, pc, res)
}

// extract asks the model for a structured record and normalizes the reply.
func (h *recordHandler) extract(ctx context.Context, pc *conversation.ProcessingContext) (*nlu.Result, error) {
	if h.llm == nil {
		return nil, ErrNoModel
	}
	content, err := complete(ctx, h.llm, h.metrics, llm.Request{
		Messages:    llm.FormatMessages(extractSystemPrompt+focusHint(h.focus), userPrompt(pc), nil),
		MaxTokens:   384,
		Temperature: llm.Temperature(0.1),
	})
	if err != nil {
		return nil, fmt.Errorf("%s extraction: %w", h.name, err)
	}

	res := nlu.Parse(content, pc.Message.Content)
	if res.Action == nlu.ActionNone && !res.HealthData.IsEmpty() {
		res.Action = nlu.ActionSave
	}
	if h.focus != "" && res.HealthData != nil && res.HealthData.Type == "" {
		res.HealthData.Type = h.focus
	}
	slog.Debug("handlers: record extracted",
		"handler", h.name,
		"trace_id", traceOf(pc),
		"source", res.Source,
		"action", res.Action,
		"input", strutil.Truncate(filter.Redact(pc.Message.Content), 50),
	)
	return res, nil
}

// run resolves and executes the action for res. Nothing to record is a
// failure so a sequential plan can move on to the next handler.
func (h *recordHandler) run(ctx context.Context, pc *conversation.ProcessingContext, res *nlu.Result) (*orchestrator.HandlerResult, error) {
	d := action.Resolve(res, pc)
	if d.Kind == nlu.ActionNone {
		return orchestrator.Fail("nothing to record"), nil
	}
	out, err := h.actions.Execute(ctx, d, pc)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return orchestrator.Fail("%s: %s", out.Kind, out.Error), nil
	}
	return orchestrator.Succeed(outcomeData(pc, res, d, out)), nil
}

// outcomeData is the handler payload for an executed action. Critical
// readings set "alert" so the orchestrator raises a flag alert.
func outcomeData(pc *conversation.ProcessingContext, res *nlu.Result, d action.Decision, out *action.Outcome) map[string]any {
	data := map[string]any{
		"action":   string(out.Kind),
		"category": string(out.Category),
		"reply":    outcomeReply(pc, res, d, out),
	}
	if out.Record != nil {
		data["record_uid"] = out.Record.UID
	}
	if out.Pending {
		data["pending"] = true
	}
	if q := firstNonEmpty(out.Question, d.Question); q != "" && (out.Pending || d.Kind == nlu.ActionClarify) {
		data["question"] = q
	}
	if len(out.Alerts) > 0 {
		data["abnormal"] = out.Alerts
		if action.Critical(out.Alerts) {
			data["alert"] = true
		}
	}
	return data
}

func outcomeReply(pc *conversation.ProcessingContext, res *nlu.Result, d action.Decision, out *action.Outcome) string {
	if out.Pending || d.Kind == nlu.ActionClarify {
		return firstNonEmpty(out.Question, d.Question, "Could you confirm that for me?")
	}

	var parts []string
	if r := strings.TrimSpace(res.Reply); r != "" {
		parts = append(parts, r)
	} else {
		switch out.Kind {
		case nlu.ActionSave:
			parts = append(parts, fmt.Sprintf("Got it, I've recorded the %s entry for %s.", out.Category, patientLabel(pc)))
		case nlu.ActionUpdate:
			parts = append(parts, fmt.Sprintf("Done, I've updated the %s entry.", out.Category))
		case nlu.ActionDelete:
			parts = append(parts, "The record has been removed.")
		}
	}
	parts = append(parts, out.AlertMessages()...)
	return strings.Join(parts, "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// NewHealthLog handles general records: water, food, sleep, exercise, mood.
func NewHealthLog(svc llm.Service, actions *action.Executor, exporter *metrics.PrometheusExporter) orchestrator.Handler {
	return &recordHandler{name: routing.HandlerHealthLog, llm: svc, actions: actions, metrics: exporter}
}

// MedicationHandler records doses and fills the dosage from the medication plan.
type MedicationHandler struct {
	recordHandler
}

func NewMedication(svc llm.Service, actions *action.Executor, exporter *metrics.PrometheusExporter) *MedicationHandler {
	return &MedicationHandler{recordHandler{name: routing.HandlerMedication, focus: nlu.CategoryMedication, llm: svc, actions: actions, metrics: exporter}}
}

func (h *MedicationHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	res, err := h.extract(ctx, pc)
	if err != nil {
		return nil, err
	}
	if hd := res.HealthData; hd != nil && hd.MedicationName != "" && hd.Dosage == "" {
		for _, m := range pc.Medications {
			if strings.EqualFold(m.Name, hd.MedicationName) {
				hd.Dosage = m.Dosage
				break
			}
		}
	}
	return h.run(ctx, pc, res)
}

// SymptomHandler records symptoms and flags severe ones and emergencies.
type SymptomHandler struct {
	recordHandler
}

func NewSymptom(svc llm.Service, actions *action.Executor, exporter *metrics.PrometheusExporter) *SymptomHandler {
	return &SymptomHandler{recordHandler{name: routing.HandlerSymptom, focus: nlu.CategorySymptom, llm: svc, actions: actions, metrics: exporter}}
}

func (h *SymptomHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	emergency := intentOf(pc) == routing.IntentEmergency

	res, err := h.extract(ctx, pc)
	if err != nil {
		if emergency && ctx.Err() == nil {
			slog.Warn("handlers: symptom extraction failed during emergency", "trace_id", traceOf(pc), "error", err)
			return orchestrator.Succeed(map[string]any{"emergency": true}), nil
		}
		return nil, err
	}

	result, err := h.run(ctx, pc, res)
	if err != nil {
		return nil, err
	}
	severe := res.HealthData != nil && strings.EqualFold(res.HealthData.SymptomSeverity, "severe")
	if !emergency && !severe {
		return result, nil
	}
	if !result.Success {
		return orchestrator.Succeed(map[string]any{"emergency": true}), nil
	}
	result.Data["emergency"] = true
	return result, nil
}

// VitalsHandler records vital signs. Readings extracted by the pattern
// matcher are saved directly without a model round trip.
type VitalsHandler struct {
	recordHandler
}

func NewVitals(svc llm.Service, actions *action.Executor, exporter *metrics.PrometheusExporter) *VitalsHandler {
	return &VitalsHandler{recordHandler{name: routing.HandlerVitals, focus: nlu.CategoryVitals, llm: svc, actions: actions, metrics: exporter}}
}

func (h *VitalsHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	if hd := vitalsFromEntities(metaMap(pc, orchestrator.MetaEntities)); hd != nil {
		slog.Debug("handlers: vitals from classifier entities", "trace_id", traceOf(pc))
		res := &nlu.Result{
			Intent:     nlu.IntentVitalsLog,
			Action:     nlu.ActionSave,
			Confidence: metaFloat(pc, orchestrator.MetaConfidence),
			HealthData: hd,
			Source:     nlu.SourceHeuristic,
		}
		return h.run(ctx, pc, res)
	}
	return h.recordHandler.Handle(ctx, pc)
}

// vitalsFromEntities builds vitals data from classifier entities.
func vitalsFromEntities(ents map[string]any) *nlu.HealthData {
	if len(ents) == 0 {
		return nil
	}
	get := func(key string) *float64 {
		if v, ok := ents[key].(float64); ok && v > 0 {
			return &v
		}
		return nil
	}
	hd := &nlu.HealthData{
		Type:        nlu.CategoryVitals,
		Systolic:    get("systolic"),
		Diastolic:   get("diastolic"),
		HeartRate:   get("heart_rate"),
		BloodSugar:  get("blood_sugar"),
		Oxygen:      get("oxygen"),
		Temperature: get("temperature"),
	}
	if !hd.HasVitals() {
		return nil
	}
	if p, ok := ents["period"].(string); ok {
		hd.Period = p
	}
	return hd
}

var (
	_ orchestrator.Handler = (*recordHandler)(nil)
	_ orchestrator.Handler = (*MedicationHandler)(nil)
	_ orchestrator.Handler = (*SymptomHandler)(nil)
	_ orchestrator.Handler = (*VitalsHandler)(nil)
)
