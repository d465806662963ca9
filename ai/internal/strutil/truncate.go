// Package strutil provides string helpers shared by the ai packages.
package strutil

import "strings"

// Truncate shortens s to maxLen runes, appending "..." when cut.
// Returns "" when maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// NormalizeSpace lowercases s, trims it and collapses runs of whitespace to one space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
