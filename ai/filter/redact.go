// Package filter masks personal contact data in text before it reaches logs.
// Message content is written to logs truncated and redacted, never raw.
package filter

import (
	"regexp"
	"sync"
)

// Kind is a category of personal data.
type Kind int

const (
	// Phone matches mobile numbers, with or without a country prefix.
	Phone Kind = iota
	// IDCard matches 18-digit resident identity numbers.
	IDCard
	// Email matches email addresses.
	Email
)

var patterns = sync.OnceValue(func() map[Kind]*regexp.Regexp {
	return map[Kind]*regexp.Regexp{
		IDCard: regexp.MustCompile(`\b[1-9]\d{5}(?:18|19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]\b`),
		Phone:  regexp.MustCompile(`(?:\+\d{1,3}[ -]?)?\b1[3-9]\d{9}\b|\+\d{1,3}[ -]?\d{3,4}[ -]?\d{3,4}[ -]?\d{3,4}\b`),
		Email:  regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
	}
})

// order matters: identity numbers contain phone-shaped runs.
var kinds = []Kind{IDCard, Phone, Email}

// Redactor masks matches of its configured kinds.
type Redactor struct {
	kinds     []Kind
	maskChar  rune
	keepFirst int
	keepLast  int
}

// New returns a redactor for kinds; no kinds means all of them.
func New(enabled ...Kind) *Redactor {
	r := &Redactor{maskChar: '*', keepFirst: 3, keepLast: 2}
	if len(enabled) == 0 {
		r.kinds = kinds
		return r
	}
	for _, k := range kinds {
		for _, e := range enabled {
			if k == e {
				r.kinds = append(r.kinds, k)
			}
		}
	}
	return r
}

var defaultRedactor = New()

// Redact masks all known personal data in s.
func Redact(s string) string {
	return defaultRedactor.Redact(s)
}

// Redact masks every match in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	p := patterns()
	for _, k := range r.kinds {
		re := p[k]
		if k == Email {
			s = re.ReplaceAllStringFunc(s, r.maskEmail)
			continue
		}
		s = re.ReplaceAllStringFunc(s, r.mask)
	}
	return s
}

// Contains reports whether s carries any unmasked personal data.
func (r *Redactor) Contains(s string) bool {
	p := patterns()
	for _, k := range r.kinds {
		if p[k].MatchString(s) {
			return true
		}
	}
	return false
}

func (r *Redactor) mask(s string) string {
	runes := []rune(s)
	if len(runes) <= r.keepFirst+r.keepLast {
		return s
	}
	for i := r.keepFirst; i < len(runes)-r.keepLast; i++ {
		if runes[i] != ' ' && runes[i] != '-' {
			runes[i] = r.maskChar
		}
	}
	return string(runes)
}

// maskEmail keeps the first rune of the local part and the top-level domain.
func (r *Redactor) maskEmail(s string) string {
	runes := []rune(s)
	at, dot := -1, -1
	for i, c := range runes {
		switch c {
		case '@':
			if at < 0 {
				at = i
			}
		case '.':
			if at >= 0 {
				dot = i
			}
		}
	}
	if at < 0 || dot < 0 {
		return r.mask(s)
	}
	for i := 1; i < at; i++ {
		runes[i] = r.maskChar
	}
	for i := at + 1; i < dot; i++ {
		runes[i] = r.maskChar
	}
	return string(runes)
}
