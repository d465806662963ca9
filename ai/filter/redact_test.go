package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no personal data", "bp 150/95 after lunch", "bp 150/95 after lunch"},
		{"mobile", "call me on 13800138000 later", "call me on 138******00 later"},
		{"international", "her number is +86 13800138000", "her number is +86 *********00"},
		{"email", "send it to wei.zhang@example.com", "send it to w********@*******.com"},
		{"id card", "id 11010519491231002X", "id 110*************2X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in))
		})
	}
}

func TestRedactor_Kinds(t *testing.T) {
	r := New(Email)
	assert.Equal(t, "13800138000 a**@*******.org", r.Redact("13800138000 amy@example.org"))
	assert.True(t, r.Contains("amy@example.org"))
	assert.False(t, r.Contains("13800138000"))
	assert.False(t, New().Contains(Redact("13800138000 amy@example.org")))
}
