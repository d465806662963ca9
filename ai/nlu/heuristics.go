package nlu

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Heuristic confidences.
const (
	EmergencyHeuristicConfidence = 0.9
	GreetingHeuristicConfidence  = 0.7
	DomainHeuristicConfidence    = 0.5
)

// emergencyMarkers are hard-coded phrases that always indicate an emergency.
var emergencyMarkers = []string{
	"emergency",
	"911",
	"ambulance",
	"can't breathe",
	"cannot breathe",
	"not breathing",
	"chest pain",
	"unconscious",
	"unresponsive",
	"passed out",
	"fainted",
	"collapsed",
	"stroke",
	"seizure",
	"heavy bleeding",
	"fell down",
	"fell and can't get up",
	"救命",
	"急救",
	"晕倒",
	"摔倒",
}

var greetingPrefixes = []string{
	"good morning",
	"good afternoon",
	"good evening",
	"hello",
	"hey",
	"hi",
	"你好",
	"早上好",
	"晚上好",
}

// domainKeywords suggest the user wants something recorded.
var domainKeywords = []string{
	"medication", "medicine", "pill", "tablet", "dose", "insulin",
	"blood pressure", "pressure", "pulse", "heart rate", "bpm",
	"blood sugar", "glucose", "oxygen", "spo2", "temperature", "fever",
	"water", "drank", "ate", "breakfast", "lunch", "dinner", "meal",
	"slept", "sleep", "nap", "walked", "walk", "exercise",
	"mood", "pain", "dizzy", "nausea", "cough",
	"血压", "吃药", "血糖", "体温",
}

// MarkerState describes how emergency markers appear in a message.
type MarkerState int

const (
	MarkerAbsent MarkerState = iota
	// MarkerPresent means at least one marker occurs without a negation in front.
	MarkerPresent
	// MarkerNegated means every marker found is negated ("no emergency").
	MarkerNegated
)

// negators cancel a marker when they appear among the few words before it,
// within the same clause.
var negators = map[string]bool{
	"no": true, "not": true, "never": true, "without": true, "nor": true,
	"isn't": true, "wasn't": true, "hasn't": true, "didn't": true, "don't": true,
	"doesn't": true, "isnt": true, "wasnt": true, "didnt": true, "dont": true,
}

var cjkNegators = []string{"没有", "没", "不是", "未", "无"}

const negationWindow = 3

// EmergencyMarkers reports whether text carries an emergency marker. ASCII
// markers match on word boundaries, so "2911" or "stroked" do not count.
func EmergencyMarkers(text string) MarkerState {
	lower := strings.ToLower(text)
	state := MarkerAbsent
	for _, m := range emergencyMarkers {
		for _, i := range wordIndexes(lower, m) {
			if !negatedAt(lower, i) {
				return MarkerPresent
			}
			state = MarkerNegated
		}
	}
	return state
}

// ContainsEmergencyMarker reports whether text contains a non-negated emergency marker.
func ContainsEmergencyMarker(text string) bool {
	return EmergencyMarkers(text) == MarkerPresent
}

// negatedAt reports whether the clause before byte offset i ends with a negation.
func negatedAt(text string, i int) bool {
	prefix := text[:i]
	if cut := strings.LastIndexAny(prefix, ",.;!?\n，。；！？"); cut >= 0 {
		_, size := utf8.DecodeRuneInString(prefix[cut:])
		prefix = prefix[cut+size:]
	}
	trimmed := strings.TrimSpace(prefix)
	for _, n := range cjkNegators {
		if strings.HasSuffix(trimmed, n) {
			return true
		}
	}
	words := strings.Fields(trimmed)
	if len(words) > negationWindow {
		words = words[len(words)-negationWindow:]
	}
	for _, w := range words {
		if negators[strings.Trim(w, "\"'()")] {
			return true
		}
	}
	return false
}

// HasGreetingPrefix reports whether text starts with a greeting word.
func HasGreetingPrefix(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range greetingPrefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		rest := lower[len(p):]
		if rest == "" {
			return true
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) || r > unicode.MaxLatin1 {
			return true
		}
	}
	return false
}

// DomainKeywordHit returns the first health-domain keyword found in text.
func DomainKeywordHit(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range domainKeywords {
		if containsWord(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// Heuristic classifies the user's message when the model reply is unusable.
// Heuristics apply in order: emergency, greeting, health-domain keywords.
func Heuristic(userMessage string) *Result {
	switch {
	case ContainsEmergencyMarker(userMessage):
		return &Result{
			Intent:     IntentEmergency,
			Action:     ActionNone,
			Confidence: EmergencyHeuristicConfidence,
			Source:     SourceHeuristic,
			Repairs:    []string{"unparsable reply: emergency marker"},
		}
	case HasGreetingPrefix(userMessage):
		return &Result{
			Intent:     IntentGreeting,
			Action:     ActionNone,
			Confidence: GreetingHeuristicConfidence,
			Source:     SourceHeuristic,
			Repairs:    []string{"unparsable reply: greeting prefix"},
		}
	}
	if kw, ok := DomainKeywordHit(userMessage); ok {
		return &Result{
			Intent:             IntentHealthLog,
			Action:             ActionClarify,
			Confidence:         DomainHeuristicConfidence,
			NeedsClarification: true,
			ClarifyQuestion:    "I want to make sure I record this correctly. Could you tell me a bit more?",
			Source:             SourceHeuristic,
			Repairs:            []string{"unparsable reply: domain keyword " + kw},
		}
	}
	return &Result{
		Intent:     IntentGeneralChat,
		Action:     ActionNone,
		Confidence: 0,
		Source:     SourceNone,
		Repairs:    []string{"unparsable reply: no heuristic matched"},
	}
}

// containsWord matches ASCII keywords on word boundaries and CJK keywords as substrings.
func containsWord(text, kw string) bool {
	return len(wordIndexes(text, kw)) > 0
}

// wordIndexes returns the byte offsets where kw occurs in text, on word
// boundaries for ASCII keywords.
func wordIndexes(text, kw string) []int {
	if kw == "" {
		return nil
	}
	first, _ := utf8.DecodeRuneInString(kw)
	cjk := first > unicode.MaxASCII
	var out []int
	for start := 0; start < len(text); {
		idx := strings.Index(text[start:], kw)
		if idx < 0 {
			break
		}
		i := start + idx
		j := i + len(kw)
		if cjk || ((i == 0 || !isWordByte(text[i-1])) && (j == len(text) || !isWordByte(text[j]))) {
			out = append(out, i)
		}
		start = i + 1
	}
	return out
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
