// Package classification assigns grievance emails to subject categories.
package classification

import (
	"regexp"
	"strings"

	"grievance_server/core/domain"
)

// Scores for one keyword occurrence.
const (
	wordScore   = 1
	phraseScore = 2
)

type compiledKeyword struct {
	keyword string
	pattern *regexp.Regexp
	score   int
}

type compiledCategory struct {
	label    domain.Category
	keywords []compiledKeyword
}

// CategoryClassifier scores text against a static keyword table.
// It is immutable after construction and safe for concurrent use.
type CategoryClassifier struct {
	categories []compiledCategory
}

// CategoryScore is the total for one category.
type CategoryScore struct {
	Category domain.Category `json:"category"`
	Score    int             `json:"score"`
}

// Classification is a category decision with the scores behind it.
type Classification struct {
	Category domain.Category `json:"category"`
	Score    int             `json:"score"`
	Scores   []CategoryScore `json:"scores"`
}

// NewCategoryClassifier compiles a validated table.
func NewCategoryClassifier(table *domain.CategoryTable) *CategoryClassifier {
	rules := table.Rules()
	c := &CategoryClassifier{categories: make([]compiledCategory, 0, len(rules))}
	for _, r := range rules {
		cc := compiledCategory{label: r.Label}
		for _, kw := range r.Keywords {
			score := wordScore
			if strings.Contains(kw, " ") {
				score = phraseScore
			}
			cc.keywords = append(cc.keywords, compiledKeyword{
				keyword: kw,
				pattern: keywordPattern(kw),
				score:   score,
			})
		}
		c.categories = append(c.categories, cc)
	}
	return c
}

// keywordPattern matches kw as a whole word or phrase. Boundaries are only
// asserted next to word characters so keywords with punctuation at an edge
// still match.
func keywordPattern(kw string) *regexp.Regexp {
	expr := regexp.QuoteMeta(kw)
	if isWordByte(kw[0]) {
		expr = `\b` + expr
	}
	if isWordByte(kw[len(kw)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Normalize lowercases text and collapses whitespace runs to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Classify returns the best category for text, or Miscellaneous when no
// keyword matches. Ties go to the first-declared category.
func (c *CategoryClassifier) Classify(text string) domain.Category {
	return c.ClassifyDetailed(text).Category
}

// ClassifyDetailed is Classify with the per-category scores.
func (c *CategoryClassifier) ClassifyDetailed(text string) *Classification {
	result := &Classification{
		Category: domain.CategoryMiscellaneous,
		Scores:   make([]CategoryScore, 0, len(c.categories)),
	}

	normalized := Normalize(text)
	if normalized == "" {
		return result
	}

	for _, cat := range c.categories {
		total := 0
		for _, kw := range cat.keywords {
			if n := len(kw.pattern.FindAllStringIndex(normalized, -1)); n > 0 {
				total += n * kw.score
			}
		}
		result.Scores = append(result.Scores, CategoryScore{Category: cat.label, Score: total})
		// strictly greater keeps the earlier category on ties
		if total > result.Score {
			result.Score = total
			result.Category = cat.label
		}
	}
	return result
}

// ScoreMap flattens the scores for callers that want a lookup.
func (r *Classification) ScoreMap() map[domain.Category]int {
	m := make(map[domain.Category]int, len(r.Scores))
	for _, s := range r.Scores {
		m[s.Category] = s.Score
	}
	return m
}
