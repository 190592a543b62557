package moderation

import (
	"strings"
)

// Advisory categories, in the order the composer prefers them
const (
	CategoryViolation = "violation"
	CategoryHelp      = "help"
	CategorySummary   = "summary"
	CategoryGeneral   = "general"
)

// DefaultDenylist seeds the keyword classifier
var DefaultDenylist = []string{"hate", "stupid", "idiot"}

// DefaultTriggers are the words that summon the moderator
var DefaultTriggers = []string{"ai", "debateai", "moderator"}

// Classification is the verdict on one piece of content
type Classification struct {
	Prohibited bool
	Matched    []string
	Categories []string
}

// Classifier decides whether content violates the conduct policy
type Classifier interface {
	Classify(content string) Classification
}

// KeywordClassifier flags content containing any denylisted term as a
// case-insensitive substring
type KeywordClassifier struct {
	denylist []string
}

// NewKeywordClassifier builds a classifier; an empty list uses DefaultDenylist
func NewKeywordClassifier(denylist []string) *KeywordClassifier {
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	terms := make([]string, 0, len(denylist))
	for _, term := range denylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			terms = append(terms, term)
		}
	}
	return &KeywordClassifier{denylist: terms}
}

func (k *KeywordClassifier) Classify(content string) Classification {
	lower := strings.ToLower(content)
	var c Classification
	for _, term := range k.denylist {
		if strings.Contains(lower, term) {
			c.Matched = append(c.Matched, term)
		}
	}
	c.Prohibited = len(c.Matched) > 0
	if c.Prohibited {
		c.Categories = append(c.Categories, CategoryViolation)
	}
	if strings.Contains(lower, "help") || strings.Contains(lower, "question") {
		c.Categories = append(c.Categories, CategoryHelp)
	}
	if strings.Contains(lower, "summarize") || strings.Contains(lower, "summary") {
		c.Categories = append(c.Categories, CategorySummary)
	}
	return c
}

// words splits content into lowercase alphanumeric words
func words(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
