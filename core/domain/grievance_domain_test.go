package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewCategoryTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		rules   []CategoryRule
		wantErr error
	}{
		{"empty table", nil, ErrNoCategories},
		{"blank label", []CategoryRule{{Label: "  ", Keywords: []string{"a"}}}, ErrEmptyLabel},
		{"reserved label", []CategoryRule{{Label: "miscellaneous", Keywords: []string{"a"}}}, ErrReservedCategory},
		{
			"duplicate label",
			[]CategoryRule{{Label: "Exam", Keywords: []string{"a"}}, {Label: "exam", Keywords: []string{"b"}}},
			ErrDuplicateCategory,
		},
		{"no keywords", []CategoryRule{{Label: "Exam"}}, ErrNoKeywords},
		{"blank keyword", []CategoryRule{{Label: "Exam", Keywords: []string{"exam", " "}}}, ErrBlankKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCategoryTable(tt.rules)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCategoryTableNormalizesAndKeepsOrder(t *testing.T) {
	table, err := NewCategoryTable([]CategoryRule{
		{Label: "B", Keywords: []string{"  Show   Cause "}},
		{Label: "A", Keywords: []string{"exam"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rules := table.Rules()
	if rules[0].Label != "B" || rules[1].Label != "A" {
		t.Fatalf("order not preserved: %+v", rules)
	}
	if rules[0].Keywords[0] != "show cause" {
		t.Errorf("keyword = %q, want %q", rules[0].Keywords[0], "show cause")
	}

	rules[0].Keywords[0] = "mutated"
	if table.Rules()[0].Keywords[0] != "show cause" {
		t.Error("Rules must return a copy")
	}

	labels := table.Labels()
	if labels[len(labels)-1] != CategoryMiscellaneous {
		t.Errorf("labels should end with Miscellaneous: %v", labels)
	}
	if !table.Has("A") || !table.Has(CategoryMiscellaneous) || table.Has("C") {
		t.Error("Has mismatch")
	}
}

func TestFollowUpDecisionIncrementsDepth(t *testing.T) {
	parent := &GrievanceEmail{EmailID: "p", FollowupCount: 2}
	d := FollowUpDecision(parent, LayerStructural, "in-reply-to")
	if d.MailType != MailTypeFollowUp || d.ParentID != "p" || d.FollowupCount != 3 {
		t.Fatalf("unexpected decision %+v", d)
	}

	f := FreshDecision(LayerDefault, "")
	if f.IsFollowUp() || f.FollowupCount != 0 || f.ParentID != "" {
		t.Fatalf("unexpected fresh decision %+v", f)
	}
}

func TestResetThreading(t *testing.T) {
	e := &GrievanceEmail{EmailID: "x", ParentEmailID: "p", Category: "Exam"}
	e.ApplyDecision(ThreadDecision{MailType: MailTypeFollowUp, ParentID: "p", FollowupCount: 4, Layer: LayerSimilarity, Score: 0.9})
	e.ResetThreading()

	if e.MailType != MailTypeFresh || e.FollowupCount != 0 || e.ThreadParentID != "" || e.ThreadLayer != "" || e.SimilarityScore != 0 {
		t.Fatalf("threading not reset: %+v", e)
	}
	if e.ParentEmailID != "p" || e.Category != "Exam" {
		t.Fatalf("non-threading fields must survive reset: %+v", e)
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := &GrievanceEmail{Date: &d, Attachments: []Attachment{{Name: "a.txt"}}}
	c := e.Clone()
	c.Attachments[0].Name = "b.txt"
	*c.Date = c.Date.Add(time.Hour)

	if e.Attachments[0].Name != "a.txt" || !e.Date.Equal(d) {
		t.Fatal("clone shares state with original")
	}
}

func TestDisplayDate(t *testing.T) {
	d := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	processed := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	if got := (&GrievanceEmail{Date: &d}).DisplayDate(); got != "2024-03-01" {
		t.Errorf("got %q", got)
	}
	if got := (&GrievanceEmail{ProcessedAt: processed}).DisplayDate(); got != "2025-01-02" {
		t.Errorf("fallback got %q", got)
	}
}

func TestSenderDisplayName(t *testing.T) {
	tests := map[string]string{
		`"Govt College Rohtak" <office@gcr.edu>`: "Govt College Rohtak",
		`Registrar Office <reg@u.edu>`:            "Registrar Office",
		`abc <a@b.c>`:                             "",
		`plain@address.edu`:                       "",
		``:                                        "",
	}
	for in, want := range tests {
		if got := SenderDisplayName(in); got != want {
			t.Errorf("SenderDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}
