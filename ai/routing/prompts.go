package routing

import (
	"fmt"
	"strings"

	"github.com/hrygo/caresense/ai/conversation"
	"github.com/hrygo/caresense/ai/internal/strutil"
)

const classifySystemPrompt = `You classify messages sent by family caregivers to a caregiving assistant.
Reply with a single JSON object and nothing else:
{"intent": "<intent>", "sub_intent": "<optional detail>", "confidence": <0..1>, "entities": {...}}

Allowed intents:
- greeting: hello, thanks, small pleasantries
- general_chat: anything not about the patient's health records
- emergency: the patient may be in immediate danger
- vitals_log: a blood pressure, heart rate, blood sugar, oxygen or temperature reading
- medication_log: a dose was taken, missed or given
- health_log: water, food, sleep, exercise or mood worth recording
- symptom_report: the patient feels unwell or shows a new symptom
- record_query: a question about previously recorded data
- report_request: a request for a summary or report over a period

Put numbers you can read (systolic, diastolic, heart_rate, blood_sugar, medication_name, period) in entities.`

// buildClassifyInput renders the user turn for the classification prompt.
func buildClassifyInput(pc *conversation.ProcessingContext) string {
	var b strings.Builder
	if name := pc.PatientName(); name != "" {
		fmt.Fprintf(&b, "Patient: %s\n", name)
	}
	if n := len(pc.History); n > 0 {
		b.WriteString("Recent conversation:\n")
		start := 0
		if n > 4 {
			start = n - 4
		}
		for _, turn := range pc.History[start:] {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, strutil.Truncate(turn.Content, 200))
		}
	}
	fmt.Fprintf(&b, "Message: %s", pc.Message.AttributedContent())
	return b.String()
}
