// Package action maps normalized model results to concrete persistence actions
// on patient health records and executes them.
//
// Resolve is pure: it turns an nlu.Result into a Decision. Execute performs the
// decision against the record store. Decisions of kind none, clarify and
// confirm never reach the store.
package action

import (
	"strings"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/nlu"
)

// UpdateConfirmThreshold is the confidence below which updates need confirmation.
const UpdateConfirmThreshold = 0.6

// Decision is a resolved persistence action.
type Decision struct {
	Kind     nlu.ActionKind `json:"kind"`
	Category nlu.Category   `json:"category,omitempty"`
	Data     map[string]any `json:"data,omitempty"`

	// TargetUID names the record an update or delete applies to. When empty,
	// the most recent record of Category is targeted.
	TargetUID string `json:"target_uid,omitempty"`

	// QueryLimit bounds a query decision.
	QueryLimit int `json:"query_limit,omitempty"`

	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	Question             string `json:"question,omitempty"`
	Reason               string `json:"reason,omitempty"`

	// Health is the payload the decision was built from, kept for abnormal detection.
	Health *nlu.HealthData `json:"-"`
}

// ShortCircuits reports whether the decision must not touch persistence.
func (d Decision) ShortCircuits() bool {
	switch d.Kind {
	case nlu.ActionNone, nlu.ActionClarify, nlu.ActionConfirm:
		return true
	}
	return false
}

const defaultQueryLimit = 10

func clarify(question, reason string) Decision {
	if question == "" {
		question = "Could you tell me a bit more so I can record this correctly?"
	}
	return Decision{Kind: nlu.ActionClarify, Question: question, Reason: reason}
}

// Resolve maps a normalized result to a decision. pc may be nil for
// conversational results; persistence kinds without a patient resolve to clarify.
func Resolve(res *nlu.Result, pc *conversation.ProcessingContext) Decision {
	if res == nil {
		return clarify("", "no result")
	}
	if res.NeedsClarification || res.Action == nlu.ActionClarify {
		return clarify(res.ClarifyQuestion, "model asked for clarification")
	}

	kind := res.Action
	if res.Intent.IsConversational() && res.HealthData.IsEmpty() {
		kind = nlu.ActionNone
	}
	switch kind {
	case nlu.ActionNone:
		return Decision{Kind: nlu.ActionNone}
	case nlu.ActionConfirm:
		return Decision{Kind: nlu.ActionConfirm, RequiresConfirmation: true, Question: res.ClarifyQuestion, Health: res.HealthData}
	case "":
		return clarify("", "missing action")
	}

	if pc == nil || !pc.Message.HasPatient() {
		return clarify("Which family member is this about?", "patient required")
	}

	target := targetUID(res.Entities)
	switch kind {
	case nlu.ActionQuery:
		d := Decision{Kind: nlu.ActionQuery, QueryLimit: defaultQueryLimit}
		if c, ok := queryCategory(res); ok {
			d.Category = c
		}
		if n, ok := res.Entities["limit"].(float64); ok && n > 0 && n <= 100 {
			d.QueryLimit = int(n)
		}
		return d

	case nlu.ActionDelete:
		category, _ := explicitCategory(res.HealthData)
		if target == "" && category == "" {
			return clarify("Which record should I remove?", "delete without target")
		}
		return Decision{
			Kind:                 nlu.ActionDelete,
			Category:             category,
			TargetUID:            target,
			RequiresConfirmation: true,
			Question:             "Please confirm you want this record removed.",
		}

	case nlu.ActionSave, nlu.ActionUpdate:
		if res.HealthData.IsEmpty() {
			return clarify(res.ClarifyQuestion, "no health data")
		}
		category := InferCategory(res.HealthData)
		d := Decision{
			Kind:     kind,
			Category: category,
			Data:     MapFields(category, res.HealthData),
			Health:   res.HealthData,
		}
		if kind == nlu.ActionUpdate {
			d.TargetUID = target
			if res.Confidence < UpdateConfirmThreshold {
				d.RequiresConfirmation = true
				d.Question = "I want to be sure before changing an earlier record. Should I update it?"
			}
		}
		return d
	}
	return clarify("", "unsupported action "+string(kind))
}

func targetUID(entities map[string]any) string {
	for _, k := range []string{"record_id", "record_uid", "target_id"} {
		if s, ok := entities[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func queryCategory(res *nlu.Result) (nlu.Category, bool) {
	if c, ok := explicitCategory(res.HealthData); ok {
		return c, true
	}
	if s, ok := res.Entities["category"].(string); ok {
		c := nlu.Category(strings.ToLower(strings.TrimSpace(s)))
		for _, known := range nlu.Categories {
			if c == known {
				return c, true
			}
		}
	}
	return "", false
}

func explicitCategory(h *nlu.HealthData) (nlu.Category, bool) {
	if h == nil || h.Type == "" {
		return "", false
	}
	for _, known := range nlu.Categories {
		if h.Type == known {
			return h.Type, true
		}
	}
	return "", false
}
