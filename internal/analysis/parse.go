package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joelkehle/designwatch/internal/patent"
)

// ErrTagParseFailure marks a sentinel produced because the model replied
// but not in a shape we could interpret. Call failures carry the transport
// error text instead, so the two are distinguishable downstream.
const ErrTagParseFailure = "parse_failure"

const rawExcerptLimit = 200

// scoredObjectRe finds a brace-delimited object that actually contains the
// similarity score key, so stray braces elsewhere in the reply don't win.
var scoredObjectRe = regexp.MustCompile(`(?s)\{[^{}]*"similarity_score"[^{}]*\}`)

// anyObjectRe is the last-resort tier: the first brace-delimited substring
// of any shape.
var anyObjectRe = regexp.MustCompile(`(?s)\{.*?\}`)

type rawAnalysis struct {
	SimilarityScore any    `json:"similarity_score"`
	RiskLevel       string `json:"risk_level"`
	Recommendation  string `json:"recommendation"`
	Reasoning       string `json:"reasoning"`
}

// parseResponse reduces a free-form model reply to a bounded result. Tiers
// are attempted in order: the whole reply as JSON, then an object anchored
// on the score key, then any brace-delimited substring. If nothing parses
// the result is a sentinel carrying an excerpt of the raw text.
func parseResponse(response string) patent.AnalysisResult {
	candidates := []string{response}
	if m := scoredObjectRe.FindString(response); m != "" {
		candidates = append(candidates, m)
	}
	if m := anyObjectRe.FindString(response); m != "" {
		candidates = append(candidates, m)
	}

	for _, candidate := range candidates {
		var raw rawAnalysis
		if err := json.Unmarshal([]byte(stripCodeFences(candidate)), &raw); err == nil {
			return sanitize(raw)
		}
	}

	return sentinelResult(
		fmt.Sprintf("Could not parse analysis response. Raw: %s", excerpt(response)),
		ErrTagParseFailure,
	)
}

// sanitize coerces parsed fields into the bounded result shape regardless
// of how conformant the reply was: the score is clamped to [0,100] and the
// enumerations fall back to their safe defaults.
func sanitize(raw rawAnalysis) patent.AnalysisResult {
	score := coerceScore(raw.SimilarityScore)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	risk := patent.RiskLevel(raw.RiskLevel)
	switch risk {
	case patent.RiskHigh, patent.RiskMedium, patent.RiskLow, patent.RiskNone:
	default:
		risk = patent.RiskNone
	}

	rec := patent.Recommendation(raw.Recommendation)
	switch rec {
	case patent.RecommendFlag, patent.RecommendMonitor, patent.RecommendDismiss:
	default:
		rec = patent.RecommendMonitor
	}

	return patent.AnalysisResult{
		SimilarityScore: score,
		RiskLevel:       risk,
		Recommendation:  rec,
		Reasoning:       raw.Reasoning,
	}
}

// coerceScore accepts whatever JSON type the model chose for the score.
func coerceScore(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int(f)
		}
	}
	return 0
}

func sentinelResult(reasoning, errTag string) patent.AnalysisResult {
	return patent.AnalysisResult{
		SimilarityScore: 0,
		RiskLevel:       patent.RiskNone,
		Recommendation:  patent.RecommendMonitor,
		Reasoning:       reasoning,
		Error:           errTag,
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if _, rest, ok := strings.Cut(s, "\n"); ok {
			s = rest
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func excerpt(s string) string {
	if len(s) > rawExcerptLimit {
		return s[:rawExcerptLimit]
	}
	return s
}
