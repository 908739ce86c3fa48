package risk

import "strings"

// KeywordMatcher performs case-insensitive substring matching against a fixed
// vocabulary. A single hit is a sufficient condition for raising an alert.
type KeywordMatcher struct {
	keywords []string
}

// NewKeywordMatcher creates a matcher over the given vocabulary
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if trimmed := strings.TrimSpace(strings.ToLower(kw)); trimmed != "" {
			lowered = append(lowered, trimmed)
		}
	}
	return &KeywordMatcher{keywords: lowered}
}

// Match returns the first matched vocabulary entry and whether any matched
func (m *KeywordMatcher) Match(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(lowered, kw) {
			return kw, true
		}
	}
	return "", false
}

// CountMatches returns how many vocabulary entries appear in text
func (m *KeywordMatcher) CountMatches(text string) int {
	lowered := strings.ToLower(text)
	count := 0
	for _, kw := range m.keywords {
		if strings.Contains(lowered, kw) {
			count++
		}
	}
	return count
}
