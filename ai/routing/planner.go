package routing

// HighConfidenceThreshold separates dispatch by intent from the low-confidence plan.
const HighConfidenceThreshold = 0.8

// CardType is a UI rendering hint carried on a plan. Handlers ignore it.
type CardType string

const (
	CardNone       CardType = ""
	CardEmergency  CardType = "emergency"
	CardVitals     CardType = "vitals"
	CardMedication CardType = "medication"
	CardHealth     CardType = "health"
	CardSymptom    CardType = "symptom"
	CardReport     CardType = "report"
)

// RoutingPlan is the set of handlers to run for a message and how to run them.
type RoutingPlan struct {
	Intent     Intent        `json:"intent"`
	Confidence float64       `json:"confidence"`
	Handlers   []HandlerName `json:"handlers"`
	Parallel   bool          `json:"parallel"`
	Fallback   HandlerName   `json:"fallback,omitempty"`
	Card       CardType      `json:"card,omitempty"`
}

type route struct {
	handlers []HandlerName
	parallel bool
	card     CardType
}

// routeTable is the high-confidence dispatch table, indexed by Intent.
var routeTable = [...]route{
	IntentUnknown:       {handlers: []HandlerName{HandlerConversation}},
	IntentGreeting:      {handlers: []HandlerName{HandlerConversation}},
	IntentGeneralChat:   {handlers: []HandlerName{HandlerConversation}},
	IntentEmergency:     {handlers: []HandlerName{HandlerSymptom, HandlerConversation}, parallel: true, card: CardEmergency},
	IntentVitalsLog:     {handlers: []HandlerName{HandlerVitals, HandlerConversation}, card: CardVitals},
	IntentMedicationLog: {handlers: []HandlerName{HandlerMedication, HandlerHealthLog}, card: CardMedication},
	IntentHealthLog:     {handlers: []HandlerName{HandlerHealthLog, HandlerConversation}, card: CardHealth},
	IntentSymptomReport: {handlers: []HandlerName{HandlerSymptom, HandlerConversation}, parallel: true, card: CardSymptom},
	IntentRecordQuery:   {handlers: []HandlerName{HandlerQuery, HandlerConversation}},
	IntentReportRequest: {handlers: []HandlerName{HandlerReport, HandlerQuery}, card: CardReport},
}

// Every intent must have a route.
var _ = [1]struct{}{}[len(routeTable)-int(intentCount)]

// lowConfidenceRoute runs when the classifier is not sure.
var lowConfidenceRoute = route{
	handlers: []HandlerName{HandlerHealthLog, HandlerConversation},
	parallel: true,
}

// Plan maps a classification to a routing plan. It is a pure function.
func Plan(cls Classification) RoutingPlan {
	r := lowConfidenceRoute
	if cls.Confidence > HighConfidenceThreshold && cls.Intent.Valid() {
		r = routeTable[cls.Intent]
	}
	if len(r.handlers) == 0 {
		r = routeTable[IntentUnknown]
	}

	handlers := make([]HandlerName, len(r.handlers))
	copy(handlers, r.handlers)
	return RoutingPlan{
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
		Handlers:   handlers,
		Parallel:   r.parallel,
		Fallback:   HandlerConversation,
		Card:       r.card,
	}
}

// HandlerSet reports which handlers are available.
type HandlerSet interface {
	Has(name HandlerName) bool
}

// Restrict returns a copy of the plan without handlers absent from set.
// A missing fallback is cleared.
func (p RoutingPlan) Restrict(set HandlerSet) RoutingPlan {
	out := p
	out.Handlers = make([]HandlerName, 0, len(p.Handlers))
	for _, h := range p.Handlers {
		if set.Has(h) {
			out.Handlers = append(out.Handlers, h)
		}
	}
	if out.Fallback != "" && !set.Has(out.Fallback) {
		out.Fallback = ""
	}
	return out
}

// Contains reports whether the plan lists h.
func (p RoutingPlan) Contains(h HandlerName) bool {
	for _, n := range p.Handlers {
		if n == h {
			return true
		}
	}
	return false
}

// Mode returns "parallel" or "sequential".
func (p RoutingPlan) Mode() string {
	if p.Parallel {
		return "parallel"
	}
	return "sequential"
}
