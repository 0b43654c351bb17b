package gazette

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joelkehle/designwatch/internal/scan"
)

var issueDate = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

func TestParsePageTableLayout(t *testing.T) {
	html := `<html><body><table>
		<tr><th>Number</th><th>Title</th><th>Class</th></tr>
		<tr><td>D 1,234,567</td><td>Eyeglass frame with hinge</td><td>D16/300</td>
			<td><img src="/images/D1234567.png"></td></tr>
		<tr><td>D 1,234,568</td><td>Sunglass temple</td><td>D16/330</td></tr>
		<tr><td>no patent here</td><td>filler</td></tr>
	</table></body></html>`

	patents := parsePage(html, issueDate)
	if len(patents) != 2 {
		t.Fatalf("got %d patents, want 2", len(patents))
	}

	p := patents[0]
	if p.PatentNumber != "D1234567" {
		t.Errorf("PatentNumber = %q", p.PatentNumber)
	}
	if p.Title != "Eyeglass frame with hinge" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.ClassificationUS != "D16/300" {
		t.Errorf("ClassificationUS = %q", p.ClassificationUS)
	}
	if p.ImageURL != "/images/D1234567.png" {
		t.Errorf("ImageURL = %q", p.ImageURL)
	}
	if !p.IssueDate.Equal(issueDate) {
		t.Errorf("IssueDate = %v", p.IssueDate)
	}
}

func TestParsePageTextFallback(t *testing.T) {
	html := `<html><body><p>This week's designs include D1,234,567 and D1,234,568.
		D1,234,567 appears twice.</p></body></html>`

	patents := parsePage(html, issueDate)
	if len(patents) != 2 {
		t.Fatalf("got %d patents, want 2 (deduplicated)", len(patents))
	}
	if patents[0].PatentNumber != "D1234567" || patents[1].PatentNumber != "D1234568" {
		t.Errorf("numbers = %q, %q", patents[0].PatentNumber, patents[1].PatentNumber)
	}
	if patents[0].Title != "(from Official Gazette)" {
		t.Errorf("Title = %q", patents[0].Title)
	}
}

func TestParsePageEmpty(t *testing.T) {
	if got := parsePage("<html><body><p>Nothing this week.</p></body></html>", issueDate); len(got) != 0 {
		t.Errorf("got %d patents, want 0", len(got))
	}
}

func TestWeeksInWindow(t *testing.T) {
	window := scan.Window{
		From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC),
	}
	weeks := weeksInWindow(window)
	if len(weeks) != 3 {
		t.Fatalf("got %d weeks, want 3", len(weeks))
	}
	// Tuesdays in the window: Feb 3, 10, 17 of 2026.
	for i, want := range []int{3, 10, 17} {
		if weeks[i].issueDate.Day() != want {
			t.Errorf("week %d issue date = %v, want Feb %d", i, weeks[i].issueDate, want)
		}
	}
}

func TestFetchTriesMirrorsAndFailsDistinctly(t *testing.T) {
	var urls []string
	s := NewScraper("", 5)
	s.fetchPage = func(_ context.Context, url string) (string, error) {
		urls = append(urls, url)
		return "", errors.New("connection refused")
	}

	window := scan.Window{
		From: time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
	}
	_, err := s.Fetch(context.Background(), window)
	if err == nil {
		t.Fatal("expected error when all mirrors fail")
	}
	if len(urls) != len(pageURLTemplates) {
		t.Errorf("tried %d urls, want %d", len(urls), len(pageURLTemplates))
	}
}

func TestFetchFallsBackToSecondMirror(t *testing.T) {
	s := NewScraper("", 5)
	s.fetchPage = func(_ context.Context, url string) (string, error) {
		if url == fmt.Sprintf(pageURLTemplates[0], 7) {
			return "<html><body>Page Not Found</body></html>", nil
		}
		return `<html><body><table><tr><td>D1,234,567</td><td>Eyeglass frame</td><td>D16/300</td></tr></table></body></html>`, nil
	}

	window := scan.Window{
		From: time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
	}
	patents, err := s.Fetch(context.Background(), window)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(patents) != 1 || patents[0].PatentNumber != "D1234567" {
		t.Fatalf("patents = %+v", patents)
	}
}
