package flow

import (
	"strings"

	"github.com/haven-labs/mindhaven/internal/prompts"
)

// The crisis protocol is a three-state machine per user: Normal -> Crisis on
// a trigger phrase match, Crisis -> Normal only via an explicit /reset, and
// any state -> Banned via the warning ledger. Banned is terminal and is
// checked before everything else.

// ContainsCrisisKeyword reports whether text matches a crisis trigger phrase.
func ContainsCrisisKeyword(text string) bool {
	return containsAny(text, prompts.CrisisKeywords)
}

// ContainsViolationKeyword reports whether text matches the static blocklist.
func ContainsViolationKeyword(text string) bool {
	return containsAny(text, prompts.ViolationKeywords)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
