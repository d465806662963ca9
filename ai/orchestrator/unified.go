package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/filter"
	"github.com/hrygo/caresense/ai/internal/strutil"
	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/ai/routing"
)

const unifiedSystemPrompt = `You are a caregiving assistant helping a family look after an elderly relative.
Understand the caregiver's message and reply with a single JSON object and nothing else:
{
  "intent": "greeting|general_chat|emergency|vitals_log|medication_log|health_log|symptom_report|record_query|report_request",
  "action": "save|update|delete|query|confirm|clarify|none",
  "confidence": <0..1>,
  "entities": {"record_id": "<when changing an earlier record>", "category": "<when querying>"},
  "health_data": {
    "type": "medication|vitals|water|exercise|sleep|symptom|mood|food",
    "medication_name": "", "dosage": "", "taken": true, "period": "morning|noon|evening|night",
    "systolic": 0, "diastolic": 0, "heart_rate": 0, "blood_sugar": 0, "oxygen": 0, "temperature": 0,
    "water_ml": 0, "exercise_type": "", "exercise_minutes": 0, "sleep_hours": 0, "sleep_quality": "",
    "symptoms": [], "symptom_severity": "", "mood": "", "mood_score": 0, "meal": "", "food_items": [], "notes": ""
  },
  "reply": "<a short, warm reply to the caregiver>",
  "needs_clarification": false,
  "clarify_question": ""
}
Only include health_data fields you actually read in the message. Use "save" for new records,
"query" for questions about earlier records and "none" for small talk.`

const unifiedHistoryTurns = 6

// runUnified handles a message with one model call whose reply is normalized
// and resolved into a persistence action.
func (o *Orchestrator) runUnified(ctx context.Context, pc *conversation.ProcessingContext, traceID string) (*Response, error) {
	text := pc.Message.Content

	raw := ""
	start := time.Now()
	completion, err := o.llm.Complete(ctx, llm.Request{
		Model:       o.config.UnifiedModel,
		Messages:    llm.FormatMessages(unifiedSystemPrompt, buildUnifiedInput(pc), historyMessages(pc.History, unifiedHistoryTurns)),
		MaxTokens:   o.config.UnifiedMaxTokens,
		Temperature: llm.Temperature(0.2),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("orchestrator: unified model call failed",
			"trace_id", traceID,
			"input", strutil.Truncate(filter.Redact(text), 50),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		raw = completion.Content
		o.metrics.RecordLLM(completion.Model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens, completion.Duration)
	}

	res := nlu.Parse(raw, text)
	intent := routing.FromNLU(res.Intent)
	o.metrics.RecordClassification(string(unifiedMethod(res)), intent.String())

	decision := action.Resolve(res, pc)
	outcome, err := o.actions.Execute(ctx, decision, pc)
	if err != nil {
		return nil, err
	}
	slog.Debug("orchestrator: unified action executed",
		"trace_id", traceID,
		"intent", res.Intent,
		"kind", outcome.Kind,
		"category", outcome.Category,
		"success", outcome.Success,
		"alerts", len(outcome.Alerts))

	agg := unifiedAggregate(res, decision, outcome)
	base := map[string]any{
		MetaIntent:     intent.String(),
		MetaConfidence: res.Confidence,
		MetaMethod:     string(unifiedMethod(res)),
		MetaMode:       ModeUnified,
		MetaTraceID:    traceID,
	}
	o.evaluateAlert(ctx, pc, intent, agg, base)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{
		Success: true,
		Intent:  intent.String(),
		Reply:   composeReply(unifiedReplyParts(res, decision, outcome), agg.Alert),
		Data:    outcome,
		Alert:   agg.Alert,
	}
	if !outcome.Success {
		resp.Error = outcome.Error
	}
	o.record(ctx, pc, traceID, resp)
	return resp, nil
}

func unifiedMethod(res *nlu.Result) routing.Method {
	switch res.Source {
	case nlu.SourceModel:
		return routing.MethodModel
	case nlu.SourceHeuristic:
		return routing.MethodFallback
	}
	return routing.MethodError
}

// unifiedAggregate exposes the action outcome to the alert evaluator as a
// single synthetic handler result.
func unifiedAggregate(res *nlu.Result, d action.Decision, out *action.Outcome) *AggregatedResult {
	data := map[string]any{
		"intent":   string(res.Intent),
		"action":   string(out.Kind),
		"category": string(out.Category),
	}
	if res.Intent == nlu.IntentEmergency {
		data["emergency"] = true
	}
	if len(out.Alerts) > 0 {
		data["abnormal"] = out.Alerts
		if action.Critical(out.Alerts) {
			data["alert"] = true
		}
	}
	if d.Question != "" {
		data["question"] = d.Question
	}
	r := &HandlerResult{Handler: "unified", Success: out.Success, Data: data}
	if !out.Success {
		r = &HandlerResult{Handler: "unified", Error: out.Error}
	}
	return Aggregate([]*HandlerResult{r})
}

func unifiedReplyParts(res *nlu.Result, d action.Decision, out *action.Outcome) []string {
	switch {
	case out.Pending, d.Kind == nlu.ActionClarify:
		q := out.Question
		if q == "" {
			q = d.Question
		}
		if q == "" {
			q = "Could you confirm that for me?"
		}
		return []string{q}
	case !out.Success:
		return []string{"I couldn't save that just now. Please try again in a moment."}
	}

	parts := []string{res.Reply}
	if res.Reply == "" {
		parts[0] = defaultOutcomeReply(out)
	}
	return append(parts, out.AlertMessages()...)
}

func defaultOutcomeReply(out *action.Outcome) string {
	switch out.Kind {
	case nlu.ActionSave:
		return fmt.Sprintf("Got it, I've recorded the %s entry.", out.Category)
	case nlu.ActionUpdate:
		return fmt.Sprintf("Done, I've updated the %s entry.", out.Category)
	case nlu.ActionDelete:
		return "The record has been removed."
	case nlu.ActionQuery:
		if len(out.Records) == 0 {
			return "I couldn't find any matching records."
		}
		return fmt.Sprintf("I found %d matching records.", len(out.Records))
	}
	return ""
}

// buildUnifiedInput renders the patient snapshot and the message for the unified prompt.
func buildUnifiedInput(pc *conversation.ProcessingContext) string {
	var b strings.Builder
	if p := pc.Patient; p != nil {
		fmt.Fprintf(&b, "Patient: %s", p.Name)
		if len(p.Conditions) > 0 {
			fmt.Fprintf(&b, " (conditions: %s)", strings.Join(p.Conditions, ", "))
		}
		b.WriteString("\n")
	}
	if len(pc.Medications) > 0 {
		names := make([]string, 0, len(pc.Medications))
		for _, m := range pc.Medications {
			names = append(names, strings.TrimSpace(m.Name+" "+m.Dosage))
		}
		fmt.Fprintf(&b, "Active medications: %s\n", strings.Join(names, ", "))
	}
	if n := len(pc.Activities); n > 0 {
		if n > 3 {
			n = 3
		}
		b.WriteString("Latest records:\n")
		for _, a := range pc.Activities[:n] {
			fmt.Fprintf(&b, "- %s at %s\n", a.Category, a.CreatedAt.Format("2006-01-02 15:04"))
		}
	}
	fmt.Fprintf(&b, "Message: %s", pc.Message.AttributedContent())
	return b.String()
}

func historyMessages(turns []conversation.Turn, limit int) []llm.Message {
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role == "assistant" {
			out = append(out, llm.AssistantMessage(t.Content))
		} else {
			out = append(out, llm.UserMessage(t.Content))
		}
	}
	return out
}
