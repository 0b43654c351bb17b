package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/designwatch/internal/patent"
)

// renderAlertEmail builds the alert digest: the per-patent details are
// written as markdown and converted with goldmark, then wrapped in a
// styled HTML shell for mail clients.
func renderAlertEmail(title, subtitle string, alerts []patent.Alert, today time.Time) (string, error) {
	var md strings.Builder
	for _, a := range alerts {
		writeAlertMarkdown(&md, a, today)
	}

	var content strings.Builder
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := gm.Convert([]byte(md.String()), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return wrapEmailHTML(title, subtitle, content.String()), nil
}

func writeAlertMarkdown(md *strings.Builder, a patent.Alert, today time.Time) {
	p := a.Patent

	fmt.Fprintf(md, "## [%s](%s) — %s\n\n", p.PatentNumber, p.USPTOURL(), p.Title)
	fmt.Fprintf(md, "| | |\n|---|---|\n")
	fmt.Fprintf(md, "| Issue Date | %s |\n", p.IssueDate.Format("January 2, 2006"))

	remaining := patent.MonthsRemaining(p.IssueDate, today)
	marker := ""
	if remaining < 3 {
		marker = " ⚠"
	}
	fmt.Fprintf(md, "| PGR Deadline | **%s** (%.1f months remaining)%s |\n",
		p.PGRDeadline().Format("January 2, 2006"), remaining, marker)

	if p.Assignee != "" {
		fmt.Fprintf(md, "| Assignee | %s |\n", p.Assignee)
	}
	if len(p.Inventors) > 0 {
		fmt.Fprintf(md, "| Inventors | %s |\n", strings.Join(p.Inventors, ", "))
	}
	if p.ClassificationUS != "" {
		fmt.Fprintf(md, "| US Classification | %s |\n", p.ClassificationUS)
	}
	if p.ClassificationCPC != "" {
		fmt.Fprintf(md, "| CPC Classification | %s |\n", p.ClassificationCPC)
	}
	if len(a.MatchedCriteria) > 0 {
		fmt.Fprintf(md, "| Matched Criteria | %s |\n", strings.Join(a.MatchedCriteria, "; "))
	}
	md.WriteString("\n")

	if a.Analysis != nil {
		writeAnalysisMarkdown(md, a.Analysis)
	}
	md.WriteString("\n---\n\n")
}

func writeAnalysisMarkdown(md *strings.Builder, r *patent.AnalysisResult) {
	fmt.Fprintf(md, "### Design Analysis: %d%% similarity\n\n", r.SimilarityScore)
	fmt.Fprintf(md, "**Risk: %s** · Recommendation: **%s**\n\n",
		strings.ToUpper(string(r.RiskLevel)), strings.ToUpper(string(r.Recommendation)))
	if r.Reasoning != "" {
		fmt.Fprintf(md, "%s\n\n", r.Reasoning)
	}
	mode := "Text-only analysis (no patent image available)"
	if r.PatentImageUsed {
		mode = "Visual + text analysis"
	}
	fmt.Fprintf(md, "*%s · %d product image(s) compared*\n", mode, len(r.ProductImagesUsed))
}

func renderTestEmail() (string, error) {
	md := "## Patent Monitor Test\n\n" +
		"If you received this email, your notification settings are configured correctly.\n\n" +
		"The monitor will send alerts when new design patents matching your criteria are found.\n"

	var content strings.Builder
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := gm.Convert([]byte(md), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return wrapEmailHTML("Patent Monitor", "Test email", content.String()), nil
}

func wrapEmailHTML(title, subtitle, contentHTML string) string {
	return "<!doctype html><html><head><meta charset='utf-8'>" +
		"<style>" +
		"body{font-family:Arial,sans-serif;color:#333;max-width:700px;margin:0 auto;} " +
		".header{background:#1a365d;color:white;padding:20px;border-radius:8px 8px 0 0;} " +
		".content{padding:20px;border:1px solid #e2e8f0;border-top:none;border-radius:0 0 8px 8px;} " +
		".content table{border-collapse:collapse;margin:8px 0;} " +
		".content td,.content th{border:1px solid #e2e8f0;padding:4px 10px;text-align:left;font-size:13px;} " +
		".content h2{margin-top:20px;font-size:17px;} .content h3{font-size:14px;color:#4a5568;} " +
		"a{color:#2b6cb0;} " +
		".footer{font-size:12px;color:#a0aec0;margin-top:20px;padding-top:12px;border-top:1px solid #e2e8f0;} " +
		"</style></head><body>" +
		"<div class='header'><h2 style='margin:0;'>" + html.EscapeString(title) + "</h2>" +
		"<p style='margin:4px 0 0 0;opacity:0.9;'>" + html.EscapeString(subtitle) + "</p></div>" +
		"<div class='content'>" + contentHTML +
		"<div class='footer'><p>Patent Monitor — automated design patent tracking</p>" +
		"<p>To manage your search criteria, edit config.yaml</p></div></div>" +
		"</body></html>"
}
