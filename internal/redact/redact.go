// Package redact hides card numbers and credentials in text bound for users
// or logs.
package redact

import (
	"regexp"
	"strings"
)

// cardNumberPattern matches 16-digit numbers grouped by hyphens or spaces and
// 13 to 19 contiguous digits.
var cardNumberPattern = regexp.MustCompile(`\b(?:\d{4}(?:-\d{4}){3}|\d{4}(?: +\d{4}){3}|\d{13,19})\b`)

// MaskCardNumbers hides every digit of a card-like number except the last
// four. Separators are kept, so "5105-1051-0510-5100" becomes
// "****-****-****-5100".
func MaskCardNumbers(text string) string {
	if text == "" {
		return text
	}
	return cardNumberPattern.ReplaceAllStringFunc(text, maskDigits)
}

func maskDigits(match string) string {
	digits := 0
	for i := 0; i < len(match); i++ {
		if isDigit(match[i]) {
			digits++
		}
	}

	const keep = 4
	var b strings.Builder
	b.Grow(len(match))
	seen := 0
	for i := 0; i < len(match); i++ {
		c := match[i]
		if !isDigit(c) {
			b.WriteByte(c)
			continue
		}
		seen++
		if seen > digits-keep {
			b.WriteByte(c)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Placeholder replaces secrets matched by a Redactor.
const Placeholder = "[REDACTED]"

// DefaultSecretPatterns contains regex patterns for common sensitive data.
var DefaultSecretPatterns = []string{
	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{32,}`,

	// OpenAI and OpenRouter keys
	`sk-(?:or-v1-)?[a-zA-Z0-9_-]{32,}`,

	// Telegram bot tokens
	`\b\d{8,10}:[a-zA-Z0-9_-]{35}\b`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// Redactor replaces secrets and masks card numbers.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles DefaultSecretPatterns plus extra. Invalid extra patterns are
// skipped.
func New(extra ...string) *Redactor {
	all := append(append([]string(nil), DefaultSecretPatterns...), extra...)
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(all))}
	for _, p := range all {
		if re, err := regexp.Compile(p); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

// String redacts s.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, Placeholder)
	}
	return MaskCardNumbers(s)
}
