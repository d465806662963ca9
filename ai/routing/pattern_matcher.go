package routing

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hrygo/caresense/ai/internal/strutil"
	"github.com/hrygo/caresense/ai/nlu"
)

// PatternThreshold is the score a pattern match must exceed to skip the model.
const PatternThreshold = 0.7

// defaultPatterns holds, per intent, the textual patterns scored by the matcher.
// An intent's score is the fraction of its patterns found in the message.
var defaultPatterns = map[Intent][]string{
	IntentEmergency: {
		`\b(?:emergency|911|ambulance|can'?t breathe|cannot breathe|not breathing|chest pain|unconscious|unresponsive|passed out|fainted|collapsed|stroke|seizure|heavy bleeding|fell down)\b|救命|急救|晕倒|摔倒`,
	},
	IntentVitalsLog: {
		`blood pressure|\bbp\b|pulse|heart rate|blood sugar|glucose|oxygen|spo2|temperature|\btemp\b|血压|心率|血糖|体温`,
		`\d{2,3}(\.\d+)?`,
	},
	IntentMedicationLog: {
		`\b(took|taken|gave|given|had|missed|skipped)\b|吃了|服用|吃药`,
		`medication|medicine|\bmeds?\b|pills?|tablets?|\bdose\b|insulin|metformin|aspirin|lisinopril|药`,
	},
	IntentSymptomReport: {
		`\b(feels?|feeling|felt|complain(s|ed|ing)?|has|having|got)\b|感觉|有点`,
		`pain|aches?|dizzy|nause(a|ous)|cough(ing)?|fever|headache|vomit(ing|ed)?|rash|swollen|short of breath|confused|不舒服|疼|头晕|咳嗽`,
	},
	IntentHealthLog: {
		`\b(drank|ate|slept|napped|walked|exercised|had (breakfast|lunch|dinner))\b|喝了|睡了|散步`,
		`\d+\s*(ml|glass(es)?|cups?|hours?|hrs?|minutes?|mins?|steps)\b|\d+\s*(毫升|杯|小时|分钟)`,
	},
	IntentReportRequest: {
		`report|summary|summari[sz]e|overview|报告|总结`,
		`\b(week|weekly|month|monthly|daily|today|yesterday|last \d+ days)\b|本周|本月|今天`,
	},
	IntentRecordQuery: {
		`^(what|when|how (many|much|often)|did|has|have|show|list)\b|多少|什么时候|有没有`,
		`record|log|reading|medication|medicine|pressure|sugar|taken|water|sleep|记录`,
		`\?|？|^(show|list)\b`,
	},
	IntentGreeting: {
		`^(?:(?:hi|hello|hey|good (?:morning|afternoon|evening))\b|你好|早上好|晚上好)`,
		`^.{1,40}$`,
	},
}

// matchOrder breaks score ties: earlier intents win.
var matchOrder = []Intent{
	IntentEmergency,
	IntentVitalsLog,
	IntentMedicationLog,
	IntentSymptomReport,
	IntentHealthLog,
	IntentReportRequest,
	IntentRecordQuery,
	IntentGreeting,
	IntentGeneralChat,
	IntentUnknown,
}

// Plausible blood pressure ranges; readings outside them are not extracted.
const (
	minSystolic, maxSystolic   = 60, 260
	minDiastolic, maxDiastolic = 30, 160
)

var (
	pressureRegex     = regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`)
	// pressurePairRegex reads "pressure was 150 95" or "bp 150 over 95", anchored to the keyword.
	pressurePairRegex = regexp.MustCompile(`(?:blood pressure|\bbp\b|pressure|血压)\D{0,20}?\b(\d{2,3})\s*(?:/|over|-|,|and)?\s*(\d{2,3})\b`)
	heartRateRegex    = regexp.MustCompile(`(?:pulse|heart rate|心率)\D{0,20}?\b(\d+(?:\.\d+)?)`)
	bloodSugarRegex   = regexp.MustCompile(`(?:sugar|glucose|血糖)\D{0,20}?\b(\d+(?:\.\d+)?)`)
	oxygenRegex       = regexp.MustCompile(`(?:oxygen|spo2)\D{0,20}?\b(\d+(?:\.\d+)?)`)
	temperatureRegex  = regexp.MustCompile(`(?:temperature|\btemp\b|体温)\D{0,20}?\b(\d+(?:\.\d+)?)`)
	numberRegex       = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// clockRegex matches times of day, removed before reading vitals.
	clockRegex        = regexp.MustCompile(`\b\d{1,2}(?::\d{2})?\s*(?:(?:am|pm|o'?clock)\b|a\.m\.|p\.m\.)|\b\d{1,2}:\d{2}\b|\d{1,2}点`)
	periodWords       = []struct {
		re     *regexp.Regexp
		period string
	}{
		{regexp.MustCompile(`\b(morning|breakfast|am)\b|早上|上午`), "morning"},
		{regexp.MustCompile(`\b(noon|lunch|midday)\b|中午`), "noon"},
		{regexp.MustCompile(`\b(afternoon)\b|下午`), "afternoon"},
		{regexp.MustCompile(`\b(evening|dinner|supper|pm)\b|晚上`), "evening"},
		{regexp.MustCompile(`\b(night|bedtime|tonight)\b|睡前|夜里`), "night"},
	}
)

// PatternMatcher is the deterministic fast-path classifier.
type PatternMatcher struct {
	mu       sync.RWMutex
	patterns map[Intent][]*regexp.Regexp
}

// NewPatternMatcher creates a matcher with the built-in pattern table.
func NewPatternMatcher() *PatternMatcher {
	m := &PatternMatcher{patterns: make(map[Intent][]*regexp.Regexp, len(defaultPatterns))}
	for intent, list := range defaultPatterns {
		compiled, err := compilePatterns(list)
		if err != nil {
			panic(fmt.Sprintf("routing: built-in pattern for %s: %v", intent, err))
		}
		m.patterns[intent] = compiled
	}
	return m
}

// patternFile is the YAML layout of a pattern override file:
//
//	intents:
//	  vitals_log:
//	    - "blood pressure|bp"
//	    - "\\d+"
type patternFile struct {
	Intents map[string][]string `yaml:"intents"`
}

// LoadFile replaces the pattern lists of the intents named in a YAML file.
// Intents absent from the file keep their current patterns.
func (m *PatternMatcher) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pattern file: %w", err)
	}
	return m.Load(data)
}

// Load applies YAML pattern overrides.
func (m *PatternMatcher) Load(data []byte) error {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse pattern file: %w", err)
	}

	updates := make(map[Intent][]*regexp.Regexp, len(pf.Intents))
	for name, list := range pf.Intents {
		intent, ok := ParseIntent(name)
		if !ok {
			return fmt.Errorf("pattern file: unknown intent %q", name)
		}
		compiled, err := compilePatterns(list)
		if err != nil {
			return fmt.Errorf("pattern file: intent %s: %w", name, err)
		}
		updates[intent] = compiled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for intent, compiled := range updates {
		m.patterns[intent] = compiled
	}
	return nil
}

// Match scores every intent and returns the best one. The returned
// classification carries the raw score; callers compare it to PatternThreshold.
func (m *PatternMatcher) Match(text string) Classification {
	normalized := strutil.NormalizeSpace(text)
	if normalized == "" {
		return errorClassification()
	}

	// "no emergency, just ..." is scored as if the marker were absent.
	negatedEmergency := nlu.EmergencyMarkers(normalized) == nlu.MarkerNegated

	m.mu.RLock()
	best, bestScore := IntentUnknown, 0.0
	for _, intent := range matchOrder {
		list := m.patterns[intent]
		if len(list) == 0 || (intent == IntentEmergency && negatedEmergency) {
			continue
		}
		hits := 0
		for _, re := range list {
			if re.MatchString(normalized) {
				hits++
			}
		}
		score := float64(hits) / float64(len(list))
		if score > bestScore {
			best, bestScore = intent, score
		}
	}
	m.mu.RUnlock()

	if bestScore == 0 {
		return errorClassification()
	}
	return Classification{
		Intent:     best,
		Confidence: bestScore,
		Entities:   extractEntities(best, normalized),
		Method:     MethodPattern,
	}
}

// extractEntities pulls intent-specific entities out of normalized text.
func extractEntities(intent Intent, text string) map[string]any {
	ents := map[string]any{}
	if p := periodOf(text); p != "" {
		ents["period"] = p
	}

	switch intent {
	case IntentVitalsLog:
		text := clockRegex.ReplaceAllString(text, " ")
		if sys, dia, ok := bloodPressure(text); ok {
			ents["systolic"] = sys
			ents["diastolic"] = dia
			break
		}
		for _, single := range []struct {
			key string
			re  *regexp.Regexp
		}{
			{"heart_rate", heartRateRegex},
			{"blood_sugar", bloodSugarRegex},
			{"oxygen", oxygenRegex},
			{"temperature", temperatureRegex},
		} {
			if m := single.re.FindStringSubmatch(text); len(m) == 2 {
				v, _ := strconv.ParseFloat(m[1], 64)
				ents[single.key] = v
				break
			}
		}
	case IntentHealthLog:
		if n := numberRegex.FindString(text); n != "" {
			v, _ := strconv.ParseFloat(n, 64)
			ents["amount"] = v
		}
	}

	if len(ents) == 0 {
		return nil
	}
	return ents
}

// bloodPressure finds a systolic/diastolic pair, either slash-separated or
// following a pressure keyword, and rejects implausible pairs.
func bloodPressure(text string) (sys, dia float64, ok bool) {
	for _, re := range []*regexp.Regexp{pressureRegex, pressurePairRegex} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			sys, _ = strconv.ParseFloat(m[1], 64)
			dia, _ = strconv.ParseFloat(m[2], 64)
			if plausiblePressure(sys, dia) {
				return sys, dia, true
			}
		}
	}
	return 0, 0, false
}

func plausiblePressure(sys, dia float64) bool {
	return sys >= minSystolic && sys <= maxSystolic &&
		dia >= minDiastolic && dia <= maxDiastolic &&
		sys > dia
}

func periodOf(text string) string {
	for _, pw := range periodWords {
		if pw.re.MatchString(text) {
			return pw.period
		}
	}
	return ""
}

func compilePatterns(list []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(list))
	for _, p := range list {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
