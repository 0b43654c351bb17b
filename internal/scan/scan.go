// Package scan pulls candidate patents from the configured sources, runs
// them through the matcher and records new matches in the tracking store.
// Sources are processed strictly one after another; each source's audit
// record is committed before the next source starts, so a crash leaves a
// clean prefix of completed runs.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joelkehle/designwatch/internal/patent"
)

// Window is the grant-date range a source is asked to cover.
type Window struct {
	From time.Time
	To   time.Time
}

// Source is an external feed of candidate patent records. Fetch must
// report failure distinctly from zero results.
type Source interface {
	Name() string
	Fetch(ctx context.Context, window Window) ([]patent.Patent, error)
}

// Matcher decides which configured rules a patent satisfies.
type Matcher interface {
	Match(p patent.Patent) []string
}

// Store is the subset of the tracking store the orchestrator needs.
type Store interface {
	PatentExists(patentNumber string) (bool, error)
	InsertPatent(p patent.Patent, matchedCriteria []string) (bool, error)
	LogSearchRun(run patent.SearchRun) error
	LastSuccessfulRun(source string) (time.Time, bool, error)
}

// ProgressFn receives human-readable progress messages during a scan.
type ProgressFn func(message string)

// Result aggregates one full scan cycle across all sources.
type Result struct {
	Alerts       []patent.Alert `json:"alerts"`
	TotalFetched int            `json:"total_fetched"`
	NewMatches   int            `json:"new_matches"`
	Errors       []string       `json:"errors,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// Options narrows a scan. A zero From/To means "derive the window from the
// source's last successful run, falling back to the lookback period".
type Options struct {
	From     time.Time
	To       time.Time
	Progress ProgressFn
}

type Scanner struct {
	sources  []Source
	matcher  Matcher
	store    Store
	lookback time.Duration
	now      func() time.Time
}

func New(sources []Source, matcher Matcher, store Store, lookbackDays int) *Scanner {
	return &Scanner{
		sources:  sources,
		matcher:  matcher,
		store:    store,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// Run executes one scan cycle. A source failure is recorded on that
// source's run entry and in the aggregate error list; the remaining
// sources still run.
func (s *Scanner) Run(ctx context.Context, opts Options) Result {
	ctx, span := otel.Tracer("designwatch/scan").Start(ctx, "scan.Run")
	defer span.End()

	result := Result{}
	started := s.now()

	for _, source := range s.sources {
		emit(opts.Progress, fmt.Sprintf("Scanning source %q...", source.Name()))
		alerts, fetched, errText := s.scanSource(ctx, source, opts)
		result.Alerts = append(result.Alerts, alerts...)
		result.TotalFetched += fetched
		result.NewMatches += len(alerts)
		if errText != "" {
			result.Errors = append(result.Errors, errText)
		}
	}

	result.Duration = s.now().Sub(started)
	span.SetAttributes(
		attribute.Int("scan.fetched", result.TotalFetched),
		attribute.Int("scan.new_matches", result.NewMatches),
		attribute.Int("scan.errors", len(result.Errors)),
	)
	emit(opts.Progress, fmt.Sprintf("Scan complete: %d patents fetched, %d new matches",
		result.TotalFetched, result.NewMatches))
	return result
}

// scanSource runs one source to completion and always logs exactly one
// SearchRun, success or failure.
func (s *Scanner) scanSource(ctx context.Context, source Source, opts Options) (alerts []patent.Alert, fetched int, errText string) {
	started := s.now()
	window := s.resolveWindow(source.Name(), opts)
	run := patent.SearchRun{
		RunAt:       started,
		Source:      source.Name(),
		QueryParams: encodeWindow(window),
	}

	candidates, err := source.Fetch(ctx, window)
	if err != nil {
		errText = fmt.Sprintf("%s: fetch failed: %v", source.Name(), err)
	} else {
		run.ResultsCount = len(candidates)
		fetched = len(candidates)
		alerts, err = s.processCandidates(candidates)
		if err != nil {
			errText = fmt.Sprintf("%s: %v", source.Name(), err)
		}
		run.NewMatchesCount = len(alerts)
	}

	run.Error = errText
	run.Duration = s.now().Sub(started)
	if logErr := s.store.LogSearchRun(run); logErr != nil && errText == "" {
		errText = fmt.Sprintf("%s: %v", source.Name(), logErr)
	}
	return alerts, fetched, errText
}

func (s *Scanner) processCandidates(candidates []patent.Patent) ([]patent.Alert, error) {
	var alerts []patent.Alert
	for _, candidate := range candidates {
		exists, err := s.store.PatentExists(candidate.PatentNumber)
		if err != nil {
			return alerts, fmt.Errorf("existence check for %s: %w", candidate.PatentNumber, err)
		}
		if exists {
			continue
		}
		matched := s.matcher.Match(candidate)
		if len(matched) == 0 {
			continue
		}
		inserted, err := s.store.InsertPatent(candidate, matched)
		if err != nil {
			return alerts, fmt.Errorf("insert %s: %w", candidate.PatentNumber, err)
		}
		if !inserted {
			// Another record won the race between the existence check and
			// the insert; still not a new match.
			continue
		}
		alerts = append(alerts, patent.Alert{Patent: candidate, MatchedCriteria: matched})
	}
	return alerts, nil
}

// resolveWindow prefers an explicit window, then the source's last
// successful run, then the configured lookback from today.
func (s *Scanner) resolveWindow(source string, opts Options) Window {
	window := Window{From: opts.From, To: opts.To}
	if window.To.IsZero() {
		window.To = s.now()
	}
	if window.From.IsZero() {
		if last, ok, err := s.store.LastSuccessfulRun(source); err == nil && ok {
			window.From = last
		} else {
			window.From = s.now().Add(-s.lookback)
		}
	}
	return window
}

func encodeWindow(w Window) string {
	raw, _ := json.Marshal(map[string]string{
		"date_from": w.From.Format("2006-01-02"),
		"date_to":   w.To.Format("2006-01-02"),
	})
	return string(raw)
}

func emit(progress ProgressFn, message string) {
	if progress != nil {
		progress(message)
	}
}
