package handlers

import (
	"fmt"
	"strings"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/core/llm"
	"github.com/hrygo/caresense/ai/nlu"
)

const conversationSystemPrompt = `You are CareSense, a warm assistant helping a family look after an elderly relative.

Rules:
- Answer in 1-3 short sentences, in the language of the message.
- Never diagnose or change medication. Suggest contacting a doctor when symptoms are concerning.
- If the message describes an emergency, tell them to call local emergency services first.
- Use the patient's name when you know it.`

const extractSystemPrompt = `You extract health records from messages sent by family caregivers.

Reply with JSON only:
{"intent": "health_log|vitals_log|medication_log|symptom_report|general_chat",
 "action": "save|update|delete|clarify|none",
 "confidence": 0.0-1.0,
 "entities": {"record_id": "optional uid of the record to change"},
 "health_data": {
   "type": "medication|vitals|water|exercise|sleep|symptom|mood|food",
   "medication_name": "", "dosage": "", "taken": true, "period": "morning|noon|evening|night",
   "systolic": 0, "diastolic": 0, "heart_rate": 0, "blood_sugar": 0, "oxygen": 0, "temperature": 0,
   "water_ml": 0, "exercise_type": "", "exercise_minutes": 0,
   "sleep_hours": 0, "sleep_quality": "",
   "symptoms": [], "symptom_severity": "mild|moderate|severe",
   "mood": "", "mood_score": 0, "meal": "", "food_items": [], "notes": ""},
 "reply": "one short confirmation sentence",
 "needs_clarification": false,
 "clarify_question": ""}

Omit health_data fields you do not know. Never invent readings.
Ask for clarification when a reading or medication is ambiguous.`

const reportSystemPrompt = `You write short weekly care summaries for a family.
Given the statistics, write 3-5 sentences: what went well, what needs attention, one gentle suggestion.
Do not diagnose. Mention out-of-range readings plainly.`

// focusHint tells the extraction prompt which record class the router expects.
func focusHint(focus nlu.Category) string {
	if focus == "" {
		return ""
	}
	return fmt.Sprintf("\nThe message is most likely about %s.", focus)
}

// patientSnapshot renders the profile, medication plan and latest records.
func patientSnapshot(pc *conversation.ProcessingContext) string {
	var b strings.Builder
	if p := pc.Patient; p != nil {
		fmt.Fprintf(&b, "Patient: %s", p.Name)
		if len(p.Conditions) > 0 {
			fmt.Fprintf(&b, " (conditions: %s)", strings.Join(p.Conditions, ", "))
		}
		b.WriteString("\n")
	}
	if len(pc.Medications) > 0 {
		b.WriteString("Medication plan:\n")
		for _, m := range pc.Medications {
			fmt.Fprintf(&b, "- %s", m.Name)
			if m.Dosage != "" {
				fmt.Fprintf(&b, " %s", m.Dosage)
			}
			if m.Schedule != "" {
				fmt.Fprintf(&b, " (%s)", m.Schedule)
			}
			b.WriteString("\n")
		}
	}
	if n := len(pc.Activities); n > 0 {
		if n > 5 {
			n = 5
		}
		b.WriteString("Recent records:\n")
		for _, a := range pc.Activities[:n] {
			fmt.Fprintf(&b, "- %s %s: %s\n", a.CreatedAt.Format("Jan 2 15:04"), a.Category, summarizeData(a.Data))
		}
	}
	return b.String()
}

func userPrompt(pc *conversation.ProcessingContext) string {
	snap := patientSnapshot(pc)
	msg := "Message: " + pc.Message.AttributedContent()
	if snap == "" {
		return msg
	}
	return snap + "\n" + msg
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
