// Package store persists tracked patents and the scan audit log in SQLite.
// It is the only component allowed to mutate persisted state; everything
// else works on copies. The patent_number unique constraint is enforced by
// the schema so a duplicate insert is a no-op, never an error.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/designwatch/internal/patent"
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS patents (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	patent_number          TEXT UNIQUE NOT NULL,
	application_number     TEXT NOT NULL DEFAULT '',
	title                  TEXT NOT NULL,
	issue_date             TEXT NOT NULL,
	filing_date            TEXT,
	inventors              TEXT NOT NULL DEFAULT '[]',
	assignee               TEXT NOT NULL DEFAULT '',
	classification_us      TEXT NOT NULL DEFAULT '',
	classification_cpc     TEXT NOT NULL DEFAULT '',
	classification_locarno TEXT NOT NULL DEFAULT '',
	image_url              TEXT NOT NULL DEFAULT '',
	abstract               TEXT NOT NULL DEFAULT '',
	pgr_deadline           TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'new',
	matched_criteria       TEXT,
	first_seen_at          TEXT NOT NULL,
	notified_at            TEXT,
	notes                  TEXT NOT NULL DEFAULT '',
	analysis               TEXT
);

CREATE TABLE IF NOT EXISTS search_runs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_at            TEXT NOT NULL,
	source            TEXT NOT NULL,
	query_params      TEXT NOT NULL DEFAULT '',
	results_count     INTEGER NOT NULL DEFAULT 0,
	new_matches_count INTEGER NOT NULL DEFAULT 0,
	error             TEXT,
	duration_seconds  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS notifications (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	patent_number     TEXT NOT NULL REFERENCES patents(patent_number),
	notification_type TEXT NOT NULL,
	sent_at           TEXT NOT NULL,
	recipient         TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'sent',
	error             TEXT
);

CREATE INDEX IF NOT EXISTS idx_patents_issue_date ON patents(issue_date);
CREATE INDEX IF NOT EXISTS idx_patents_status ON patents(status);
CREATE INDEX IF NOT EXISTS idx_patents_pgr_deadline ON patents(pgr_deadline);
CREATE INDEX IF NOT EXISTS idx_search_runs_source ON search_runs(source, run_at);
`

type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// applies the schema. WAL mode and a single connection keep each logical
// operation an atomic synchronous commit.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- patent operations ---

func (s *Store) PatentExists(patentNumber string) (bool, error) {
	var one int
	err := s.db.Get(&one, "SELECT 1 FROM patents WHERE patent_number = ?", patentNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertPatent inserts a patent together with the criteria descriptions
// that matched it. A duplicate patent number reports (false, nil) and
// leaves the existing record, including first_seen_at, untouched.
func (s *Store) InsertPatent(p patent.Patent, matchedCriteria []string) (bool, error) {
	inventors, _ := json.Marshal(p.Inventors)
	var matched any
	if len(matchedCriteria) > 0 {
		raw, _ := json.Marshal(matchedCriteria)
		matched = string(raw)
	}
	firstSeen := p.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	status := p.Status
	if status == "" {
		status = patent.StatusNew
	}

	_, err := s.db.Exec(`INSERT INTO patents (
			patent_number, application_number, title, issue_date, filing_date,
			inventors, assignee, classification_us, classification_cpc,
			classification_locarno, image_url, abstract, pgr_deadline,
			status, matched_criteria, first_seen_at, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PatentNumber,
		p.ApplicationNumber,
		p.Title,
		p.IssueDate.Format(dateLayout),
		nullableDate(p.FilingDate),
		string(inventors),
		p.Assignee,
		p.ClassificationUS,
		p.ClassificationCPC,
		p.ClassificationLocarno,
		p.ImageURL,
		p.Abstract,
		p.PGRDeadline().Format(dateLayout),
		string(status),
		matched,
		firstSeen.Format(time.RFC3339Nano),
		p.Notes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert patent %s: %w", p.PatentNumber, err)
	}
	return true, nil
}

func (s *Store) GetPatent(patentNumber string) (patent.Patent, bool, error) {
	row := s.db.QueryRow(selectPatent+" WHERE patent_number = ?", patentNumber)
	p, err := scanPatent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return patent.Patent{}, false, nil
	}
	if err != nil {
		return patent.Patent{}, false, err
	}
	return p, true, nil
}

func (s *Store) PatentsByStatus(status patent.Status) ([]patent.Patent, error) {
	return s.selectPatents(selectPatent+" WHERE status = ? ORDER BY issue_date DESC", string(status))
}

func (s *Store) PatentsByDateRange(from, to time.Time, limit int) ([]patent.Patent, error) {
	return s.selectPatents(
		selectPatent+" WHERE issue_date >= ? AND issue_date <= ? ORDER BY issue_date DESC LIMIT ?",
		from.Format(dateLayout), to.Format(dateLayout), limit)
}

func (s *Store) AllPatents(limit, offset int) ([]patent.Patent, error) {
	return s.selectPatents(selectPatent+" ORDER BY issue_date DESC LIMIT ? OFFSET ?", limit, offset)
}

// PatentsWithoutAnalysis returns patents eligible for similarity scoring.
func (s *Store) PatentsWithoutAnalysis() ([]patent.Patent, error) {
	return s.selectPatents(selectPatent + " WHERE analysis IS NULL ORDER BY issue_date DESC")
}

// PatentsApproachingPGR returns flagged patents whose deadline has not
// passed and falls within monthsRemaining of today. Only explicitly
// flagged patents are reminded, not everything tracked.
func (s *Store) PatentsApproachingPGR(monthsRemaining float64, today time.Time) ([]patent.Patent, error) {
	patents, err := s.selectPatents(
		selectPatent+" WHERE status = ? AND pgr_deadline >= ? ORDER BY pgr_deadline ASC",
		string(patent.StatusFlagged), today.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	var out []patent.Patent
	for _, p := range patents {
		if p.PGRMonthsRemaining(today) <= monthsRemaining {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateStatus overwrites a patent's status. Any of reviewed/flagged/
// dismissed may follow any other; there is no terminal state.
func (s *Store) UpdateStatus(patentNumber string, status patent.Status) error {
	if !patent.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.Exec("UPDATE patents SET status = ? WHERE patent_number = ?", string(status), patentNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("patent %s not tracked", patentNumber)
	}
	return nil
}

func (s *Store) UpdateNotes(patentNumber, notes string) error {
	_, err := s.db.Exec("UPDATE patents SET notes = ? WHERE patent_number = ?", notes, patentNumber)
	return err
}

func (s *Store) MarkNotified(patentNumber string, at time.Time) error {
	_, err := s.db.Exec("UPDATE patents SET notified_at = ? WHERE patent_number = ?",
		at.Format(time.RFC3339Nano), patentNumber)
	return err
}

func (s *Store) SetAnalysis(patentNumber string, result patent.AnalysisResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("UPDATE patents SET analysis = ? WHERE patent_number = ?", string(raw), patentNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("patent %s not tracked", patentNumber)
	}
	return nil
}

func (s *Store) GetAnalysis(patentNumber string) (patent.AnalysisResult, bool, error) {
	var raw sql.NullString
	err := s.db.Get(&raw, "SELECT analysis FROM patents WHERE patent_number = ?", patentNumber)
	if errors.Is(err, sql.ErrNoRows) || err == nil && !raw.Valid {
		return patent.AnalysisResult{}, false, nil
	}
	if err != nil {
		return patent.AnalysisResult{}, false, err
	}
	var result patent.AnalysisResult
	if err := json.Unmarshal([]byte(raw.String), &result); err != nil {
		return patent.AnalysisResult{}, false, fmt.Errorf("decode analysis for %s: %w", patentNumber, err)
	}
	return result, true, nil
}

func (s *Store) PatentCount() (int, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(*) FROM patents")
	return n, err
}

func (s *Store) CountsByStatus() (map[patent.Status]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM patents GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[patent.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[patent.Status(status)] = n
	}
	return counts, rows.Err()
}

// --- search run operations ---

// LogSearchRun appends one audit record. Runs are never mutated afterward.
func (s *Store) LogSearchRun(run patent.SearchRun) error {
	var errText any
	if run.Error != "" {
		errText = run.Error
	}
	_, err := s.db.Exec(`INSERT INTO search_runs (
			run_at, source, query_params, results_count, new_matches_count, error, duration_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunAt.Format(time.RFC3339Nano),
		run.Source,
		run.QueryParams,
		run.ResultsCount,
		run.NewMatchesCount,
		errText,
		run.Duration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("log search run: %w", err)
	}
	return nil
}

// LastSuccessfulRun returns the timestamp of the newest error-free run for
// the source, used to pick the next scan window.
func (s *Store) LastSuccessfulRun(source string) (time.Time, bool, error) {
	var runAt string
	err := s.db.Get(&runAt,
		"SELECT run_at FROM search_runs WHERE source = ? AND error IS NULL ORDER BY run_at DESC LIMIT 1",
		source)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, runAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse run_at %q: %w", runAt, err)
	}
	return t, true, nil
}

func (s *Store) RecentRuns(limit int) ([]patent.SearchRun, error) {
	rows, err := s.db.Query(`SELECT run_at, source, query_params, results_count,
			new_matches_count, error, duration_seconds
		FROM search_runs ORDER BY run_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []patent.SearchRun
	for rows.Next() {
		var run patent.SearchRun
		var runAt string
		var errText sql.NullString
		var seconds float64
		if err := rows.Scan(&runAt, &run.Source, &run.QueryParams,
			&run.ResultsCount, &run.NewMatchesCount, &errText, &seconds); err != nil {
			return nil, err
		}
		run.RunAt, _ = time.Parse(time.RFC3339Nano, runAt)
		run.Error = errText.String
		run.Duration = time.Duration(seconds * float64(time.Second))
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- notification log ---

func (s *Store) LogNotification(patentNumber, notificationType, recipient, status, errText string) error {
	var e any
	if errText != "" {
		e = errText
	}
	_, err := s.db.Exec(`INSERT INTO notifications (
			patent_number, notification_type, sent_at, recipient, status, error
		) VALUES (?, ?, ?, ?, ?, ?)`,
		patentNumber, notificationType, time.Now().Format(time.RFC3339Nano), recipient, status, e)
	return err
}

// --- row mapping ---

const selectPatent = `SELECT patent_number, application_number, title, issue_date,
	filing_date, inventors, assignee, classification_us, classification_cpc,
	classification_locarno, image_url, abstract, status, matched_criteria,
	first_seen_at, notified_at, notes, analysis FROM patents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatent(row rowScanner) (patent.Patent, error) {
	var p patent.Patent
	var issueDate, inventorsJSON, status, firstSeen string
	var filingDate, matchedJSON, notifiedAt, analysisJSON sql.NullString
	if err := row.Scan(&p.PatentNumber, &p.ApplicationNumber, &p.Title, &issueDate,
		&filingDate, &inventorsJSON, &p.Assignee, &p.ClassificationUS, &p.ClassificationCPC,
		&p.ClassificationLocarno, &p.ImageURL, &p.Abstract, &status, &matchedJSON,
		&firstSeen, &notifiedAt, &p.Notes, &analysisJSON); err != nil {
		return patent.Patent{}, err
	}
	p.IssueDate, _ = time.Parse(dateLayout, issueDate)
	if filingDate.Valid && filingDate.String != "" {
		t, err := time.Parse(dateLayout, filingDate.String)
		if err == nil {
			p.FilingDate = &t
		}
	}
	_ = json.Unmarshal([]byte(inventorsJSON), &p.Inventors)
	p.Status = patent.Status(status)
	if matchedJSON.Valid && matchedJSON.String != "" {
		_ = json.Unmarshal([]byte(matchedJSON.String), &p.MatchedCriteria)
	}
	p.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	if notifiedAt.Valid && notifiedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, notifiedAt.String)
		if err == nil {
			p.NotifiedAt = &t
		}
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var result patent.AnalysisResult
		if json.Unmarshal([]byte(analysisJSON.String), &result) == nil {
			p.Analysis = &result
		}
	}
	return p, nil
}

func (s *Store) selectPatents(query string, args ...any) ([]patent.Patent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var patents []patent.Patent
	for rows.Next() {
		p, err := scanPatent(rows)
		if err != nil {
			return nil, err
		}
		patents = append(patents, p)
	}
	return patents, rows.Err()
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLITE_CONSTRAINT_UNIQUE in the message.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
