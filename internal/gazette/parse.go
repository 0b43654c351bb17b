package gazette

import (
	"regexp"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
)

var (
	rowRe          = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	cellRe         = regexp.MustCompile(`(?is)<td[^>]*>(.*?)</td>`)
	patentNumberRe = regexp.MustCompile(`D[\s,]*(\d[\d,]+\d)`)
	classRe        = regexp.MustCompile(`D\d+/\d+`)
	imgSrcRe       = regexp.MustCompile(`(?is)<img[^>]+src\s*=\s*["']([^"']+)["']`)
	tagRe          = regexp.MustCompile(`(?s)<[^>]*>`)
)

// parsePage extracts design patent entries from a gazette HTML page.
// The layout varies across weeks, so table rows are tried first and the
// raw page text is the fallback.
func parsePage(html string, issueDate time.Time) []patent.Patent {
	patents := parseRows(html, issueDate)
	if len(patents) == 0 {
		patents = parseText(html, issueDate)
	}
	return patents
}

func parseRows(html string, issueDate time.Time) []patent.Patent {
	var patents []patent.Patent
	seen := make(map[string]bool)

	for _, row := range rowRe.FindAllStringSubmatch(html, -1) {
		cells := cellRe.FindAllStringSubmatch(row[1], -1)
		if len(cells) < 2 {
			continue
		}
		rowText := stripTags(row[1])
		number := extractPatentNumber(rowText)
		if number == "" || seen[number] {
			continue
		}
		seen[number] = true

		var title, classification string
		for _, cell := range cells {
			cellText := stripTags(cell[1])
			if m := classRe.FindString(cellText); m != "" {
				classification = m
			} else if len(cellText) > 5 && !strings.HasPrefix(cellText, "D") {
				title = cellText
			}
		}
		if title == "" {
			title = truncate(rowText, 100)
		}

		p := patent.Patent{
			PatentNumber:     number,
			Title:            title,
			IssueDate:        issueDate,
			ClassificationUS: classification,
			Status:           patent.StatusNew,
		}
		if m := imgSrcRe.FindStringSubmatch(row[1]); m != nil {
			p.ImageURL = m[1]
		}
		patents = append(patents, p)
	}
	return patents
}

// parseText scans the raw page text for design patent numbers when no
// structured rows matched.
func parseText(html string, issueDate time.Time) []patent.Patent {
	text := stripTags(html)
	var patents []patent.Patent
	seen := make(map[string]bool)

	for _, m := range patentNumberRe.FindAllStringSubmatch(text, -1) {
		number := "D" + strings.ReplaceAll(m[1], ",", "")
		if seen[number] {
			continue
		}
		seen[number] = true
		patents = append(patents, patent.Patent{
			PatentNumber: number,
			Title:        "(from Official Gazette)",
			IssueDate:    issueDate,
			Status:       patent.StatusNew,
		})
	}
	return patents
}

func extractPatentNumber(text string) string {
	m := patentNumberRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return "D" + strings.ReplaceAll(m[1], ",", "")
}

func stripTags(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(tagRe.ReplaceAllString(s, " ")), " "))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
