// Package gazette scrapes the USPTO Official Gazette design patent pages
// as a supplementary scan source. The gazette publishes weekly HTML pages
// that sometimes carry drawings and classifications ahead of the search API.
package gazette

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/joelkehle/designwatch/internal/patent"
	"github.com/joelkehle/designwatch/internal/scan"
)

var pageURLTemplates = []string{
	"https://www.uspto.gov/web/patents/patog/week%02d/OG/html/Designs.html",
	"https://patentsgazette.uspto.gov/week%02d/OG/Designs.html",
}

type Scraper struct {
	chromePath string
	timeout    time.Duration
	delay      time.Duration

	fetchPage func(ctx context.Context, url string) (string, error)
}

func NewScraper(chromePath string, timeoutSeconds int) *Scraper {
	s := &Scraper{
		chromePath: chromePath,
		timeout:    time.Duration(timeoutSeconds) * time.Second,
		delay:      2 * time.Second,
	}
	s.fetchPage = s.renderPage
	return s
}

func (s *Scraper) Name() string { return "gazette" }

// Fetch scrapes every gazette week whose issue falls inside the window.
// A week that cannot be fetched from any mirror fails the whole fetch so
// the run is recorded as a source failure rather than an empty result.
func (s *Scraper) Fetch(ctx context.Context, window scan.Window) ([]patent.Patent, error) {
	var all []patent.Patent
	seen := make(map[string]bool)

	for _, wk := range weeksInWindow(window) {
		patents, err := s.scrapeWeek(ctx, wk.number, wk.issueDate)
		if err != nil {
			return nil, fmt.Errorf("gazette week %d: %w", wk.number, err)
		}
		for _, p := range patents {
			if seen[p.PatentNumber] {
				continue
			}
			seen[p.PatentNumber] = true
			all = append(all, p)
		}
	}
	return all, nil
}

func (s *Scraper) scrapeWeek(ctx context.Context, weekNum int, issueDate time.Time) ([]patent.Patent, error) {
	var lastErr error
	for _, tmpl := range pageURLTemplates {
		url := fmt.Sprintf(tmpl, weekNum)
		html, err := s.fetchPage(ctx, url)
		if err != nil {
			lastErr = err
			log.Printf("gazette: fetch %s failed: %v", url, err)
			continue
		}
		if looksLikeMissingPage(html) {
			lastErr = fmt.Errorf("page not found at %s", url)
			continue
		}
		return parsePage(html, issueDate), nil
	}
	return nil, lastErr
}

// renderPage loads the gazette page in headless Chromium and returns the
// rendered document. The gazette pages are static HTML but some mirrors
// build the listing with scripts.
func (s *Scraper) renderPage(ctx context.Context, url string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if s.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.delay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func looksLikeMissingPage(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "page not found") ||
		strings.Contains(lower, "404 not found") ||
		strings.Contains(lower, "file not found")
}

type gazetteWeek struct {
	number    int
	issueDate time.Time
}

// weeksInWindow lists the ISO weeks whose Tuesday issue date falls in the
// window. The gazette publishes on Tuesdays.
func weeksInWindow(window scan.Window) []gazetteWeek {
	var weeks []gazetteWeek
	seen := make(map[int]bool)

	for d := window.From; !d.After(window.To); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Tuesday {
			continue
		}
		_, wk := d.ISOWeek()
		if seen[wk] {
			continue
		}
		seen[wk] = true
		weeks = append(weeks, gazetteWeek{number: wk, issueDate: d})
	}
	return weeks
}
