// Package report formats tracked patents for the console and CSV export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
)

// Table renders patents as a fixed-width console table.
func Table(patents []patent.Patent, today time.Time) string {
	if len(patents) == 0 {
		return "No patents found."
	}

	const (
		numW      = 12
		titleW    = 40
		dateW     = 12
		assigneeW = 25
		classW    = 12
		urgencyW  = 8
	)

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s %-*s %-*s %s",
		numW, "Patent #",
		titleW, "Title",
		dateW, "Issue Date",
		dateW, "PGR Deadline",
		assigneeW, "Assignee",
		classW, "US Class",
		urgencyW, "Urgency",
		"Status")

	rows := []string{header, strings.Repeat("-", len(header))}
	for _, p := range patents {
		rows = append(rows, fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s %-*s %-*s %s",
			numW, p.PatentNumber,
			titleW, clip(p.Title, titleW),
			dateW, p.IssueDate.Format("2006-01-02"),
			dateW, p.PGRDeadline().Format("2006-01-02"),
			assigneeW, clip(p.Assignee, assigneeW),
			classW, hardClip(p.ClassificationUS, classW),
			urgencyW, p.Urgency(today),
			p.Status))
	}
	return strings.Join(rows, "\n")
}

var csvHeader = []string{
	"patent_number", "title", "issue_date", "pgr_deadline",
	"pgr_months_remaining", "urgency", "filing_date", "inventors",
	"assignee", "classification_us", "classification_cpc", "status",
	"abstract", "uspto_url",
}

// WriteCSV exports patents in the export column order.
func WriteCSV(w io.Writer, patents []patent.Patent, today time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range patents {
		filingDate := ""
		if p.FilingDate != nil {
			filingDate = p.FilingDate.Format("2006-01-02")
		}
		record := []string{
			p.PatentNumber,
			p.Title,
			p.IssueDate.Format("2006-01-02"),
			p.PGRDeadline().Format("2006-01-02"),
			fmt.Sprintf("%.1f", p.PGRMonthsRemaining(today)),
			string(p.Urgency(today)),
			filingDate,
			strings.Join(p.Inventors, "; "),
			p.Assignee,
			p.ClassificationUS,
			p.ClassificationCPC,
			string(p.Status),
			p.Abstract,
			p.USPTOURL(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary writes aggregate statistics and the nearest flagged deadlines.
func Summary(w io.Writer, patents []patent.Patent, today time.Time) {
	if len(patents) == 0 {
		fmt.Fprintln(w, "No patents in database.")
		return
	}

	byStatus := make(map[patent.Status]int)
	byUrgency := make(map[patent.Urgency]int)
	for _, p := range patents {
		byStatus[p.Status]++
		byUrgency[p.Urgency(today)]++
	}

	fmt.Fprintf(w, "\n=== Patent Monitor Summary (%s) ===\n\n", today.Format("2006-01-02"))
	fmt.Fprintf(w, "Total tracked patents: %d\n\n", len(patents))

	fmt.Fprintln(w, "By status:")
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %s: %d\n", s, byStatus[patent.Status(s)])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "By PGR urgency:")
	for _, u := range []patent.Urgency{patent.UrgencyHigh, patent.UrgencyMedium, patent.UrgencyLow, patent.UrgencyExpired} {
		if n := byUrgency[u]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", u, n)
		}
	}
	fmt.Fprintln(w)

	var approaching []patent.Patent
	for _, p := range patents {
		u := p.Urgency(today)
		if p.Status == patent.StatusFlagged && (u == patent.UrgencyHigh || u == patent.UrgencyMedium) {
			approaching = append(approaching, p)
		}
	}
	if len(approaching) == 0 {
		return
	}
	sort.Slice(approaching, func(i, j int) bool {
		return approaching[i].PGRDeadline().Before(approaching[j].PGRDeadline())
	})
	if len(approaching) > 10 {
		approaching = approaching[:10]
	}
	fmt.Fprintln(w, "Upcoming PGR deadlines (flagged patents):")
	for _, p := range approaching {
		fmt.Fprintf(w, "  %s  %s (%.1f months)  %s\n",
			p.PatentNumber, p.PGRDeadline().Format("2006-01-02"),
			p.PGRMonthsRemaining(today), clip(p.Title, 50))
	}
	fmt.Fprintln(w)
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func hardClip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
