package nlu

import (
	"regexp"
	"strconv"
	"strings"
)

var pressurePattern = regexp.MustCompile(`(\d{2,3})\s*/\s*(\d{2,3})`)

// lookup returns the first key present in m.
func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// firstPresent returns the first non-nil value among keys.
func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// asFloat accepts JSON numbers and numeric strings such as "120" or "98.6°F".
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		end := 0
		for end < len(s) && (s[end] == '.' || s[end] == '-' || (s[end] >= '0' && s[end] <= '9')) {
			end++
		}
		if end == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(s[:end], 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func floatPtr(v any) *float64 {
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}

// asStrings accepts a list, a single string, or a comma separated string.
func asStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// splitPressure parses "120/80" into systolic and diastolic.
func splitPressure(s string) (float64, float64, bool) {
	m := pressurePattern.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, 0, false
	}
	sys, err1 := strconv.ParseFloat(m[1], 64)
	dia, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return sys, dia, true
}
