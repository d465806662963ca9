package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/ai/routing"
)

// AlertTrigger names what made an alert fire.
type AlertTrigger string

const (
	TriggerFlag   AlertTrigger = "flag"
	TriggerMarker AlertTrigger = "marker"
	TriggerRule   AlertTrigger = "rule"
)

// Payload keys that, when truthy in the combined payload, request an alert.
var alertFlagKeys = []string{"alert", "emergency", "requires_alert"}

// Metadata keys attached to the alert handler's context.
const (
	MetaAlertTrigger = "alert_trigger"
	MetaAlertReason  = "alert_reason"
	MetaAlertPayload = "alert_payload"
)

// AlertDecision is the outcome of ShouldAlert.
type AlertDecision struct {
	Fire    bool         `json:"fire"`
	Trigger AlertTrigger `json:"trigger,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

type alertRule struct {
	expr    string
	program cel.Program
}

// AlertEvaluator decides whether an aggregated pass must raise an alert.
// Triggers are OR-ed: an explicit payload flag, an emergency marker in the
// raw text, or any operator rule.
type AlertEvaluator struct {
	rules []alertRule
}

// NewAlertEvaluator compiles the operator rules. Each rule is a CEL boolean
// expression over combined (map), text (string) and intent (string).
func NewAlertEvaluator(rules []string) (*AlertEvaluator, error) {
	a := &AlertEvaluator{}
	if len(rules) == 0 {
		return a, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("combined", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("text", cel.StringType),
		cel.Variable("intent", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create alert rule environment: %w", err)
	}
	for _, expr := range rules {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("invalid alert rule %q: %w", expr, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("alert rule %q must evaluate to bool, got %s", expr, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build alert rule %q: %w", expr, err)
		}
		a.rules = append(a.rules, alertRule{expr: expr, program: prg})
	}
	return a, nil
}

// ShouldAlert evaluates the triggers for one pass. It is independent of the
// classified intent except as a rule input.
func (a *AlertEvaluator) ShouldAlert(text string, intent routing.Intent, agg *AggregatedResult) AlertDecision {
	for _, key := range alertFlagKeys {
		if truthy(agg.Combined[key]) {
			return AlertDecision{Fire: true, Trigger: TriggerFlag, Reason: key}
		}
	}
	if nlu.ContainsEmergencyMarker(text) {
		return AlertDecision{Fire: true, Trigger: TriggerMarker, Reason: "emergency marker in message"}
	}
	if len(a.rules) == 0 {
		return AlertDecision{}
	}

	vars := map[string]any{
		"combined": jsonShape(agg.Combined),
		"text":     text,
		"intent":   intent.String(),
	}
	for _, r := range a.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			slog.Debug("alert rule evaluation failed", "rule", r.expr, "error", err)
			continue
		}
		if fired, ok := out.Value().(bool); ok && fired {
			return AlertDecision{Fire: true, Trigger: TriggerRule, Reason: r.expr}
		}
	}
	return AlertDecision{}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

// jsonShape converts a payload to plain JSON values so CEL can index any field.
func jsonShape(m map[string]any) map[string]any {
	b, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
