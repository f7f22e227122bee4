package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category is a grievance subject label.
type Category string

// CategoryMiscellaneous is assigned when no keyword matches.
const CategoryMiscellaneous Category = "Miscellaneous"

// CategoryRule binds a label to its trigger keywords and phrases.
type CategoryRule struct {
	Label    Category `yaml:"label" json:"label"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// CategoryTable is the ordered, validated label set. Declaration order
// breaks score ties, so the table is never reordered after construction.
type CategoryTable struct {
	rules []CategoryRule
}

var (
	ErrNoCategories      = errors.New("category table is empty")
	ErrEmptyLabel        = errors.New("category label is empty")
	ErrDuplicateCategory = errors.New("duplicate category label")
	ErrReservedCategory  = errors.New("category label is reserved")
	ErrNoKeywords        = errors.New("category has no keywords")
	ErrBlankKeyword      = errors.New("category has a blank keyword")
)

// NewCategoryTable validates rules and returns an immutable table.
func NewCategoryTable(rules []CategoryRule) (*CategoryTable, error) {
	if len(rules) == 0 {
		return nil, ErrNoCategories
	}

	seen := make(map[string]struct{}, len(rules))
	out := make([]CategoryRule, 0, len(rules))
	for i, r := range rules {
		label := strings.TrimSpace(string(r.Label))
		if label == "" {
			return nil, fmt.Errorf("rule %d: %w", i, ErrEmptyLabel)
		}
		key := strings.ToLower(label)
		if key == strings.ToLower(string(CategoryMiscellaneous)) {
			return nil, fmt.Errorf("%q: %w", label, ErrReservedCategory)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%q: %w", label, ErrDuplicateCategory)
		}
		seen[key] = struct{}{}

		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("%q: %w", label, ErrNoKeywords)
		}
		keywords := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.Join(strings.Fields(strings.ToLower(kw)), " ")
			if kw == "" {
				return nil, fmt.Errorf("%q: %w", label, ErrBlankKeyword)
			}
			keywords = append(keywords, kw)
		}
		out = append(out, CategoryRule{Label: Category(label), Keywords: keywords})
	}
	return &CategoryTable{rules: out}, nil
}

// Rules returns a copy of the rules in declaration order.
func (t *CategoryTable) Rules() []CategoryRule {
	out := make([]CategoryRule, len(t.rules))
	for i, r := range t.rules {
		out[i] = CategoryRule{Label: r.Label, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

// Labels returns the declared labels followed by Miscellaneous.
func (t *CategoryTable) Labels() []Category {
	labels := make([]Category, 0, len(t.rules)+1)
	for _, r := range t.rules {
		labels = append(labels, r.Label)
	}
	return append(labels, CategoryMiscellaneous)
}

// Has reports whether label is a known category, Miscellaneous included.
func (t *CategoryTable) Has(label Category) bool {
	if label == CategoryMiscellaneous {
		return true
	}
	for _, r := range t.rules {
		if r.Label == label {
			return true
		}
	}
	return false
}
