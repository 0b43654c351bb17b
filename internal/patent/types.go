// Package patent defines the core domain types for tracked design patents
// and the Post-Grant Review deadline model.
package patent

import (
	"strings"
	"time"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusReviewed  Status = "reviewed"
	StatusFlagged   Status = "flagged"
	StatusDismissed Status = "dismissed"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusReviewed, StatusFlagged, StatusDismissed:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyExpired Urgency = "expired"
	UrgencyHigh    Urgency = "high"
	UrgencyMedium  Urgency = "medium"
	UrgencyLow     Urgency = "low"
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
	RiskNone   RiskLevel = "none"
)

type Recommendation string

const (
	RecommendFlag    Recommendation = "flag"
	RecommendMonitor Recommendation = "monitor"
	RecommendDismiss Recommendation = "dismiss"
)

// Patent is the unit of tracking. PatentNumber is the natural key
// (design patents carry a "D" prefix).
type Patent struct {
	PatentNumber          string     `json:"patent_number"`
	ApplicationNumber     string     `json:"application_number,omitempty"`
	Title                 string     `json:"title"`
	IssueDate             time.Time  `json:"issue_date"`
	FilingDate            *time.Time `json:"filing_date,omitempty"`
	Inventors             []string   `json:"inventors,omitempty"`
	Assignee              string     `json:"assignee,omitempty"`
	ClassificationUS      string     `json:"classification_us,omitempty"`
	ClassificationCPC     string     `json:"classification_cpc,omitempty"`
	ClassificationLocarno string     `json:"classification_locarno,omitempty"`
	ImageURL              string     `json:"image_url,omitempty"`
	Abstract              string     `json:"abstract,omitempty"`

	Status          Status     `json:"status"`
	MatchedCriteria []string   `json:"matched_criteria,omitempty"`
	FirstSeen       time.Time  `json:"first_seen"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Analysis        *AnalysisResult `json:"analysis,omitempty"`
}

// USPTOURL returns the PPUBS PDF link for the patent.
func (p Patent) USPTOURL() string {
	num := strings.ReplaceAll(p.PatentNumber, ",", "")
	if !strings.HasPrefix(num, "D") {
		num = "D" + num
	}
	return "https://image-ppubs.uspto.gov/dirsearch-public/print/downloadPdf/" + num
}

// SearchCriteria is one named matching rule. All fields are read-only at
// runtime; rules are evaluated independently and their matches unioned.
type SearchCriteria struct {
	Name            string   `yaml:"name" json:"name"`
	USClasses       []string `yaml:"us_classes" json:"us_classes,omitempty"`
	CPCClasses      []string `yaml:"cpc_classes" json:"cpc_classes,omitempty"`
	Keywords        []string `yaml:"keywords" json:"keywords,omitempty"`
	AssigneeExclude []string `yaml:"assignee_exclude" json:"assignee_exclude,omitempty"`
}

// AnalysisResult is the outcome of a design similarity analysis. It is
// produced at most once per patent and stored as-is; Error is set when the
// result is a sentinel standing in for a failed call or unparseable reply.
type AnalysisResult struct {
	SimilarityScore   int            `json:"similarity_score"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	Recommendation    Recommendation `json:"recommendation"`
	Reasoning         string         `json:"reasoning"`
	PatentImageUsed   bool           `json:"patent_image_used"`
	ProductImagesUsed []string       `json:"product_images_used,omitempty"`
	ModelUsed         string         `json:"model_used,omitempty"`
	AnalyzedAt        time.Time      `json:"analyzed_at"`
	Error             string         `json:"error,omitempty"`
}

// Alert pairs a newly matched patent with the rule descriptions that fired.
type Alert struct {
	Patent          Patent          `json:"patent"`
	MatchedCriteria []string        `json:"matched_criteria"`
	Analysis        *AnalysisResult `json:"analysis,omitempty"`
}

// SearchRun is one append-only audit record per source per scan invocation.
type SearchRun struct {
	RunAt           time.Time     `json:"run_at"`
	Source          string        `json:"source"`
	QueryParams     string        `json:"query_params,omitempty"`
	ResultsCount    int           `json:"results_count"`
	NewMatchesCount int           `json:"new_matches_count"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
}
