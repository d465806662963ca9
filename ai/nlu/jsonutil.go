package nlu

import (
	"regexp"
	"strings"
)

var (
	// fencePattern matches a fenced block: ```json ... ``` or ``` ... ```.
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// StripCodeFence returns the body of the first fenced code block, or the
// trimmed input when there is none.
func StripCodeFence(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// extractObject pulls the first balanced JSON object out of surrounding prose
// and removes trailing commas, a common generator artifact.
func extractObject(body string) string {
	obj := firstObject(body)
	if obj == "" {
		return ""
	}
	return trailingCommaPattern.ReplaceAllString(obj, "$1")
}

// firstObject returns the first brace-balanced {...} span of s, ignoring
// braces inside string literals. Unbalanced openings are skipped.
func firstObject(s string) string {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := objectEnd(s[start:]); end > 0 {
			return s[start : start+end]
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

// objectEnd returns the length of the object opening at s[0], or 0 when it
// never closes.
func objectEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}
