// Package routing classifies inbound messages and turns a classification into
// a routing plan over the specialised handlers.
package routing

import (
	"fmt"

	"github.com/hrygo/caresense/ai/nlu"
)

// Intent is the closed set of routable intents.
type Intent uint8

const (
	IntentUnknown Intent = iota
	IntentGreeting
	IntentGeneralChat
	IntentEmergency
	IntentVitalsLog
	IntentMedicationLog
	IntentHealthLog
	IntentSymptomReport
	IntentRecordQuery
	IntentReportRequest

	intentCount
)

var intentNames = [...]string{
	IntentUnknown:       "unknown",
	IntentGreeting:      "greeting",
	IntentGeneralChat:   "general_chat",
	IntentEmergency:     "emergency",
	IntentVitalsLog:     "vitals_log",
	IntentMedicationLog: "medication_log",
	IntentHealthLog:     "health_log",
	IntentSymptomReport: "symptom_report",
	IntentRecordQuery:   "record_query",
	IntentReportRequest: "report_request",
}

// Every intent must have a name.
var _ = [1]struct{}{}[len(intentNames)-int(intentCount)]

// Intents lists every intent in declaration order.
func Intents() []Intent {
	out := make([]Intent, 0, intentCount)
	for i := Intent(0); i < intentCount; i++ {
		out = append(out, i)
	}
	return out
}

func (i Intent) String() string {
	if i >= intentCount {
		return fmt.Sprintf("intent(%d)", uint8(i))
	}
	return intentNames[i]
}

// Valid reports whether i is a declared intent.
func (i Intent) Valid() bool {
	return i < intentCount
}

// MarshalText implements encoding.TextMarshaler.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognised names decode
// to IntentUnknown.
func (i *Intent) UnmarshalText(b []byte) error {
	*i, _ = ParseIntent(string(b))
	return nil
}

// ParseIntent resolves a name to an Intent.
func ParseIntent(name string) (Intent, bool) {
	for idx, n := range intentNames {
		if n == name {
			return Intent(idx), true
		}
	}
	return IntentUnknown, false
}

// FromNLU maps a normalizer intent onto the routing enum.
func FromNLU(in nlu.Intent) Intent {
	switch in {
	case nlu.IntentGreeting:
		return IntentGreeting
	case nlu.IntentGeneralChat:
		return IntentGeneralChat
	case nlu.IntentEmergency:
		return IntentEmergency
	case nlu.IntentVitalsLog:
		return IntentVitalsLog
	case nlu.IntentMedicationLog:
		return IntentMedicationLog
	case nlu.IntentHealthLog:
		return IntentHealthLog
	case nlu.IntentSymptomReport:
		return IntentSymptomReport
	case nlu.IntentRecordQuery:
		return IntentRecordQuery
	case nlu.IntentReportRequest:
		return IntentReportRequest
	}
	return IntentUnknown
}

// HandlerName identifies a specialised handler.
type HandlerName string

const (
	HandlerConversation HandlerName = "conversation"
	HandlerHealthLog    HandlerName = "health_log"
	HandlerVitals       HandlerName = "vitals"
	HandlerMedication   HandlerName = "medication"
	HandlerSymptom      HandlerName = "symptom"
	HandlerQuery        HandlerName = "query"
	HandlerReport       HandlerName = "report"
	HandlerAlert        HandlerName = "alert"
)

// KnownHandlers is the finite set of handler names a plan may reference.
var KnownHandlers = []HandlerName{
	HandlerConversation, HandlerHealthLog, HandlerVitals, HandlerMedication,
	HandlerSymptom, HandlerQuery, HandlerReport, HandlerAlert,
}

// IsKnown reports whether n is one of KnownHandlers.
func (n HandlerName) IsKnown() bool {
	for _, k := range KnownHandlers {
		if k == n {
			return true
		}
	}
	return false
}

// Method records how a classification was produced.
type Method string

const (
	MethodPattern  Method = "pattern"
	MethodModel    Method = "model"
	MethodFallback Method = "fallback"
	MethodError    Method = "error"
)

// Classification is the result of intent resolution. A zero confidence signals failure.
type Classification struct {
	Intent     Intent         `json:"intent"`
	SubIntent  string         `json:"sub_intent,omitempty"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities,omitempty"`
	Method     Method         `json:"method"`

	// Result is the normalized model reply on the model and fallback paths.
	Result *nlu.Result `json:"-"`
}

// Failed reports whether classification failed.
func (c Classification) Failed() bool {
	return c.Confidence == 0
}

func errorClassification() Classification {
	return Classification{Intent: IntentUnknown, Confidence: 0, Method: MethodError}
}
