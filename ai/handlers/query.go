package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/store"
)

const queryReplyLimit = 5

// categoryKeywords map query words to record classes. Multi-word keys match
// as substrings, single words match whole tokens.
var categoryKeywords = []struct {
	category nlu.Category
	words    []string
}{
	{nlu.CategoryVitals, []string{"blood pressure", "heart rate", "bp", "pressure", "pulse", "sugar", "glucose", "oxygen", "spo2", "temperature", "fever", "vitals"}},
	{nlu.CategoryMedication, []string{"medication", "medications", "medicine", "pill", "pills", "dose", "doses", "tablet", "tablets"}},
	{nlu.CategoryWater, []string{"water", "drank", "drink", "hydration"}},
	{nlu.CategorySleep, []string{"sleep", "slept", "nap"}},
	{nlu.CategoryExercise, []string{"walk", "walked", "exercise", "steps"}},
	{nlu.CategoryMood, []string{"mood", "feeling"}},
	{nlu.CategoryFood, []string{"ate", "eat", "meal", "meals", "breakfast", "lunch", "dinner", "food"}},
	{nlu.CategorySymptom, []string{"symptom", "symptoms", "pain", "dizzy", "cough"}},
}

// QueryHandler lists recent records of the patient.
type QueryHandler struct {
	actions *action.Executor
}

func NewQuery(actions *action.Executor) *QueryHandler {
	return &QueryHandler{actions: actions}
}

func (h *QueryHandler) Name() routing.HandlerName { return routing.HandlerQuery }

func (h *QueryHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	ents := metaMap(pc, orchestrator.MetaEntities)
	res := &nlu.Result{
		Intent:     nlu.IntentRecordQuery,
		Action:     nlu.ActionQuery,
		Confidence: metaFloat(pc, orchestrator.MetaConfidence),
		Entities:   ents,
		Source:     nlu.SourceHeuristic,
	}
	if c := queryCategoryOf(pc.Message.Content); c != "" {
		res.HealthData = &nlu.HealthData{Type: c}
	}

	d := action.Resolve(res, pc)
	out, err := h.actions.Execute(ctx, d, pc)
	if err != nil {
		return nil, err
	}
	if d.Kind == nlu.ActionClarify {
		return orchestrator.Succeed(map[string]any{"reply": d.Question, "question": d.Question}), nil
	}
	if !out.Success {
		return orchestrator.Fail("query: %s", out.Error), nil
	}
	return orchestrator.Succeed(map[string]any{
		"reply":    formatRecords(out.Category, out.Records, queryReplyLimit),
		"category": string(out.Category),
		"count":    len(out.Records),
	}), nil
}

// queryCategoryOf picks the record class a question asks about, or "" for all.
func queryCategoryOf(text string) nlu.Category {
	lower := strings.ToLower(text)
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		tokens[tok] = true
	}
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(w, " ") {
				if strings.Contains(lower, w) {
					return ck.category
				}
			} else if tokens[w] {
				return ck.category
			}
		}
	}
	return ""
}

func formatRecords(category nlu.Category, records []*store.HealthRecord, limit int) string {
	if len(records) == 0 {
		if category != "" {
			return fmt.Sprintf("I couldn't find any %s records yet.", category)
		}
		return "I couldn't find any records yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are the latest %d of %d records:", min(limit, len(records)), len(records))
	for i, r := range records {
		if i == limit {
			break
		}
		at := time.Unix(r.CreatedTs, 0).Format("Jan 2 15:04")
		fmt.Fprintf(&b, "\n- %s %s: %s", at, r.Category, summarizeData(r.Data))
	}
	return b.String()
}

// summarizeData renders record fields as "key value" pairs in key order.
func summarizeData(data map[string]any) string {
	if len(data) == 0 {
		return "no details"
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", strings.ReplaceAll(k, "_", " "), formatValue(data[k])))
	}
	return strings.Join(parts, ", ")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%.1f", t)
	case []any:
		items := make([]string, 0, len(t))
		for _, it := range t {
			items = append(items, formatValue(it))
		}
		return strings.Join(items, "/")
	case []string:
		return strings.Join(t, "/")
	}
	return fmt.Sprint(v)
}
