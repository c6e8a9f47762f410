package agent

import "strings"

// DefaultApprovalTools lists the tools that open financial products. They are
// privileged unless configuration says otherwise.
var DefaultApprovalTools = []string{"open_credit_card", "open_deposit"}

// ApprovalPolicy decides which tool calls must pause for a human decision.
//
// Membership is static configuration: the same tool can be privileged in one
// deployment and ordinary in another. Entries are tool names or patterns
// ("open_*", "bank.*", "mcp:*").
type ApprovalPolicy struct {
	patterns []string
}

// NewApprovalPolicy builds a policy from the configured patterns. Blank
// entries are ignored; a nil slice yields a policy that approves nothing.
func NewApprovalPolicy(patterns []string) *ApprovalPolicy {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &ApprovalPolicy{patterns: cleaned}
}

// RequiresApproval reports whether a call to toolName must be deferred.
func (p *ApprovalPolicy) RequiresApproval(toolName string) bool {
	if p == nil {
		return false
	}
	return matchesToolPatterns(p.patterns, toolName)
}

// Patterns returns a copy of the configured patterns.
func (p *ApprovalPolicy) Patterns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.patterns...)
}
