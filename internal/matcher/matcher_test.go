package matcher

import (
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
)

func testPatent() patent.Patent {
	return patent.Patent{
		PatentNumber:      "D1012345",
		Title:             "Eyeglass frame with decorative temple",
		IssueDate:         time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		Assignee:          "Acme Optics LLC",
		ClassificationUS:  "D16/300",
		ClassificationCPC: "G02C 1/00; G02C 5/00",
		Abstract:          "An ornamental design for an eyeglass frame.",
	}
}

func TestClassPrefixSemantics(t *testing.T) {
	tests := []struct {
		classification string
		target         string
		want           bool
	}{
		{"D16/300", "D16/300", true}, // exact is a prefix of itself
		{"D16/300", "D16/3", true},
		{"D16/300", "D16", true},
		{"D16/300", "D26", false},
		{"G02C 1/00; G02C 5/00", "G02C 5", true},
		{"G02C 1/00; G02C 5/00", "G02C5/00", true},
		{"G02C 1/00; G02C 5/00", "H04N", false},
		{"", "D16", false},
		{"D16/300", "", false},
		{"", "", false},
		{"d16/300", "D16/3", true}, // case-insensitive
	}
	for _, tt := range tests {
		if got := classMatches(tt.classification, tt.target); got != tt.want {
			t.Errorf("classMatches(%q, %q) = %v, want %v", tt.classification, tt.target, got, tt.want)
		}
	}
}

func TestMatchCollectsAcrossRules(t *testing.T) {
	m := New([]patent.SearchCriteria{
		{Name: "frames", USClasses: []string{"D16"}, Keywords: []string{"eyeglass"}},
		{Name: "optics", CPCClasses: []string{"G02C 5"}},
	})
	got := m.Match(testPatent())
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "US class: D16") || !strings.Contains(got[0], "criteria: frames") {
		t.Errorf("unexpected first match: %q", got[0])
	}
	if !strings.Contains(got[2], "CPC class: G02C 5") || !strings.Contains(got[2], "criteria: optics") {
		t.Errorf("unexpected third match: %q", got[2])
	}
}

func TestKeywordSubstringCaseInsensitive(t *testing.T) {
	m := New([]patent.SearchCriteria{{Name: "kw", Keywords: []string{"EYEGLASS", "temple"}}})
	got := m.Match(testPatent())
	if len(got) != 2 {
		t.Fatalf("expected 2 keyword matches, got %d: %v", len(got), got)
	}
}

func TestKeywordMatchesAbstract(t *testing.T) {
	p := testPatent()
	p.Title = "Frame"
	m := New([]patent.SearchCriteria{{Name: "kw", Keywords: []string{"ornamental"}}})
	if got := m.Match(p); len(got) != 1 {
		t.Fatalf("expected abstract keyword match, got %v", got)
	}
	p.Abstract = ""
	if got := m.Match(p); len(got) != 0 {
		t.Fatalf("expected no match without abstract, got %v", got)
	}
}

func TestExclusionSilencesRuleOnly(t *testing.T) {
	m := New([]patent.SearchCriteria{
		{Name: "frames", USClasses: []string{"D16"}, Keywords: []string{"eyeglass"}, AssigneeExclude: []string{"acme"}},
		{Name: "optics", CPCClasses: []string{"G02C"}},
	})
	got := m.Match(testPatent())
	if len(got) != 1 {
		t.Fatalf("expected only the non-excluded rule to fire, got %v", got)
	}
	if !strings.Contains(got[0], "criteria: optics") {
		t.Errorf("unexpected match: %q", got[0])
	}
}

func TestNoCriteriaNoMatch(t *testing.T) {
	m := New(nil)
	if got := m.Match(testPatent()); len(got) != 0 {
		t.Fatalf("expected no matches with no criteria, got %v", got)
	}
}
