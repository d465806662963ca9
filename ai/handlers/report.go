package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hrygo/caresense/ai/action"
	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/metrics"
	"github.com/hrygo/caresense/ai/nlu"
	"github.com/hrygo/caresense/ai/orchestrator"
	"github.com/hrygo/caresense/ai/routing"
	"github.com/hrygo/caresense/store"
)

const reportRecordLimit = 500

// Summary is the statistics a care report is written from.
type Summary struct {
	Days        int                `json:"days"`
	Total       int                `json:"total"`
	ByCategory  map[string]int     `json:"by_category"`
	Averages    map[string]float64 `json:"averages,omitempty"`
	DosesTaken  int                `json:"doses_taken"`
	DosesMissed int                `json:"doses_missed"`
	WaterML     float64            `json:"water_ml,omitempty"`
	Abnormal    int                `json:"abnormal"`
}

// ReportHandler summarises the records of the last week, or month on request.
type ReportHandler struct {
	records action.Persistence
	llm     llm.Service
	metrics *metrics.PrometheusExporter
	now     func() time.Time
}

func NewReport(records action.Persistence, svc llm.Service, exporter *metrics.PrometheusExporter) *ReportHandler {
	return &ReportHandler{records: records, llm: svc, metrics: exporter, now: time.Now}
}

func (h *ReportHandler) Name() routing.HandlerName { return routing.HandlerReport }

func (h *ReportHandler) Handle(ctx context.Context, pc *conversation.ProcessingContext) (*orchestrator.HandlerResult, error) {
	if !pc.Message.HasPatient() {
		q := "Which family member should the report cover?"
		return orchestrator.Succeed(map[string]any{"reply": q, "question": q}), nil
	}
	if h.records == nil {
		return orchestrator.Fail("no record store configured"), nil
	}

	days := reportDays(pc.Message.Content)
	since := h.now().AddDate(0, 0, -days).Unix()
	patientID := pc.PatientID()
	limit := reportRecordLimit
	list, err := h.records.ListHealthRecords(ctx, &store.FindHealthRecord{
		PatientUID:   &patientID,
		CreatedAfter: &since,
		Limit:        &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list records for report: %w", err)
	}

	sum := summarize(list, days)
	reply := renderSummary(patientLabel(pc), sum)
	if h.llm != nil && sum.Total > 0 {
		content, err := complete(ctx, h.llm, h.metrics, llm.Request{
			Messages:    llm.FormatMessages(reportSystemPrompt, fmt.Sprintf("Patient: %s\n%s", patientLabel(pc), reply), nil),
			MaxTokens:   320,
			Temperature: llm.Temperature(0.5),
		})
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("handlers: report narrative failed, using statistics", "trace_id", traceOf(pc), "error", err)
		case strings.TrimSpace(content) != "":
			reply = strings.TrimSpace(content)
		}
	}
	return orchestrator.Succeed(map[string]any{"reply": reply, "report": sum}), nil
}

func reportDays(text string) int {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "month"):
		return 30
	case strings.Contains(lower, "today"):
		return 1
	}
	return 7
}

// summarize computes counts, vitals averages and medication adherence.
func summarize(records []*store.HealthRecord, days int) Summary {
	sum := Summary{Days: days, Total: len(records), ByCategory: map[string]int{}}
	totals := map[string]float64{}
	counts := map[string]int{}

	for _, r := range records {
		sum.ByCategory[r.Category]++
		switch nlu.Category(r.Category) {
		case nlu.CategoryVitals:
			for _, k := range []string{"systolic", "diastolic", "heart_rate", "blood_sugar", "oxygen", "temperature"} {
				if v, ok := r.Data[k].(float64); ok {
					totals[k] += v
					counts[k]++
				}
			}
			sum.Abnormal += len(action.DetectAbnormal(vitalsFromEntities(r.Data)))
		case nlu.CategoryMedication:
			if taken, ok := r.Data["taken"].(bool); ok && !taken {
				sum.DosesMissed++
			} else {
				sum.DosesTaken++
			}
		case nlu.CategoryWater:
			if v, ok := r.Data["amount_ml"].(float64); ok {
				sum.WaterML += v
			}
		}
	}
	if len(totals) > 0 {
		sum.Averages = make(map[string]float64, len(totals))
		for k, t := range totals {
			sum.Averages[k] = math.Round(t/float64(counts[k])*10) / 10
		}
	}
	return sum
}

func renderSummary(name string, s Summary) string {
	period := "the last 7 days"
	switch s.Days {
	case 1:
		period = "today"
	case 30:
		period = "the last 30 days"
	}
	if s.Total == 0 {
		return fmt.Sprintf("There are no records for %s from %s yet.", name, period)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Care summary for %s over %s: %d records.", name, period, s.Total)
	for _, c := range nlu.Categories {
		if n := s.ByCategory[string(c)]; n > 0 {
			fmt.Fprintf(&b, "\n- %s: %d", c, n)
		}
	}
	if sys, ok := s.Averages["systolic"]; ok {
		fmt.Fprintf(&b, "\nAverage blood pressure %.0f/%.0f.", sys, s.Averages["diastolic"])
	}
	if hr, ok := s.Averages["heart_rate"]; ok {
		fmt.Fprintf(&b, "\nAverage heart rate %.0f bpm.", hr)
	}
	if bs, ok := s.Averages["blood_sugar"]; ok {
		fmt.Fprintf(&b, "\nAverage blood sugar %.1f.", bs)
	}
	if s.DosesTaken+s.DosesMissed > 0 {
		fmt.Fprintf(&b, "\nMedication: %d taken, %d missed.", s.DosesTaken, s.DosesMissed)
	}
	if s.WaterML > 0 {
		fmt.Fprintf(&b, "\nWater: %.0f ml in total.", s.WaterML)
	}
	if s.Abnormal > 0 {
		fmt.Fprintf(&b, "\n%d readings were out of range.", s.Abnormal)
	}
	return b.String()
}
