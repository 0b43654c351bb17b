// Package webui serves the monitoring dashboard: patent browsing, status
// updates, and background scan/analysis triggers with task polling.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
	"github.com/joelkehle/designwatch/internal/scan"
)

// Store is the subset of the tracking store the UI reads and writes.
type Store interface {
	GetPatent(patentNumber string) (patent.Patent, bool, error)
	AllPatents(limit, offset int) ([]patent.Patent, error)
	PatentsByStatus(status patent.Status) ([]patent.Patent, error)
	PatentsByDateRange(from, to time.Time, limit int) ([]patent.Patent, error)
	PatentsWithoutAnalysis() ([]patent.Patent, error)
	PatentCount() (int, error)
	CountsByStatus() (map[patent.Status]int, error)
	RecentRuns(limit int) ([]patent.SearchRun, error)
	LastSuccessfulRun(source string) (time.Time, bool, error)
	UpdateStatus(patentNumber string, status patent.Status) error
}

// ScanRunner starts a scan over an optional explicit window. Per-source
// failures are carried inside the Result rather than failing the run.
type ScanRunner interface {
	Run(ctx context.Context, opts scan.Options) scan.Result
}

// AnalyzeRunner scores patents; an empty patentNumbers slice means all
// unanalyzed patents.
type AnalyzeRunner interface {
	Run(ctx context.Context, patentNumbers []string, progress func(string)) (any, error)
}

// ImageFetcher fetches the design drawing for the detail page.
type ImageFetcher interface {
	FetchPatentImage(ctx context.Context, p patent.Patent) ([]byte, error)
}

type Server struct {
	store     Store
	scanner   ScanRunner
	analyzer  AnalyzeRunner
	fetcher   ImageFetcher
	tasks     *TaskManager
	webDir    string
	cacheDir  string
	aiEnabled bool
}

func NewServer(store Store, scanner ScanRunner, analyzer AnalyzeRunner, fetcher ImageFetcher, webDir, cacheDir string, aiEnabled bool) http.Handler {
	s := &Server{
		store:     store,
		scanner:   scanner,
		analyzer:  analyzer,
		fetcher:   fetcher,
		tasks:     NewTaskManager(),
		webDir:    webDir,
		cacheDir:  cacheDir,
		aiEnabled: aiEnabled,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/patents", s.handlePatents)
	mux.HandleFunc("/api/patents/", s.handlePatentSubtree)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/analyze", s.handleAnalyzeAll)
	mux.HandleFunc("/api/analyze/", s.handleAnalyzeSingle)
	mux.HandleFunc("/api/tasks/", s.handleTaskStatus)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if r.URL.Path == "/" || r.URL.Path == "/index.html" {
		http.ServeFile(w, r, filepath.Join(s.webDir, "index.html"))
		return
	}
	path := filepath.Join(s.webDir, filepath.Clean(r.URL.Path))
	if _, err := fs.Stat(os.DirFS(s.webDir), strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")); err == nil {
		http.ServeFile(w, r, path)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	total, err := s.store.PatentCount()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	counts, err := s.store.CountsByStatus()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	pending, err := s.store.PatentsWithoutAnalysis()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	runs, err := s.store.RecentRuns(5)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	highRisk := 0
	all, err := s.store.AllPatents(1000, 0)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	for _, p := range all {
		if p.Analysis != nil && p.Analysis.RiskLevel == patent.RiskHigh {
			highRisk++
		}
	}

	payload := map[string]any{
		"total_patents":    total,
		"counts_by_status": counts,
		"pending_analysis": len(pending),
		"high_risk_count":  highRisk,
		"recent_runs":      runs,
		"has_running_task": s.tasks.HasRunning(""),
		"ai_enabled":       s.aiEnabled,
	}
	if last, ok, err := s.store.LastSuccessfulRun("api"); err == nil && ok {
		payload["last_scan_date"] = last.Format("2006-01-02")
	}
	writeJSON(w, 200, payload)
}

func (s *Server) handlePatents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	const perPage = 20
	q := r.URL.Query()

	var patents []patent.Patent
	var err error
	switch {
	case q.Get("status") != "":
		status := patent.Status(q.Get("status"))
		if !patent.ValidStatus(status) {
			writeError(w, 400, "invalid status filter")
			return
		}
		patents, err = s.store.PatentsByStatus(status)
	case q.Get("date_from") != "" && q.Get("date_to") != "":
		var from, to time.Time
		from, err = time.Parse("2006-01-02", q.Get("date_from"))
		if err != nil {
			writeError(w, 400, "invalid date_from format, use YYYY-MM-DD")
			return
		}
		to, err = time.Parse("2006-01-02", q.Get("date_to"))
		if err != nil {
			writeError(w, 400, "invalid date_to format, use YYYY-MM-DD")
			return
		}
		patents, err = s.store.PatentsByDateRange(from, to, 1000)
	default:
		page := 1
		if n, parseErr := strconv.Atoi(q.Get("page")); parseErr == nil && n > 1 {
			page = n
		}
		patents, err = s.store.AllPatents(perPage, (page-1)*perPage)
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	if risk := q.Get("risk"); risk != "" {
		filtered := patents[:0]
		for _, p := range patents {
			if p.Analysis != nil && string(p.Analysis.RiskLevel) == risk {
				filtered = append(filtered, p)
			}
		}
		patents = filtered
	}

	total, err := s.store.PatentCount()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{
		"patents": patents,
		"total":   total,
	})
}

// handlePatentSubtree routes /api/patents/{number}, .../status and
// .../image.
func (s *Server) handlePatentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/patents/")
	switch {
	case strings.HasSuffix(rest, "/status"):
		s.handleUpdateStatus(w, r, strings.TrimSuffix(rest, "/status"))
	case strings.HasSuffix(rest, "/image"):
		s.handlePatentImage(w, r, strings.TrimSuffix(rest, "/image"))
	default:
		s.handlePatentDetail(w, r, strings.TrimSuffix(rest, "/"))
	}
}

func (s *Server) handlePatentDetail(w http.ResponseWriter, r *http.Request, number string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if number == "" {
		writeError(w, 400, "patent number is required")
		return
	}
	p, ok, err := s.store.GetPatent(number)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if !ok {
		writeError(w, 404, fmt.Sprintf("patent %s not found", number))
		return
	}
	writeJSON(w, 200, map[string]any{
		"patent":     p,
		"ai_enabled": s.aiEnabled,
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, number string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, 400, "missing 'status' field")
		return
	}
	status := patent.Status(body.Status)
	if !patent.ValidStatus(status) {
		writeError(w, 400, "invalid status, must be one of: new, reviewed, flagged, dismissed")
		return
	}
	if _, ok, err := s.store.GetPatent(number); err != nil {
		writeError(w, 500, err.Error())
		return
	} else if !ok {
		writeError(w, 404, fmt.Sprintf("patent %s not found", number))
		return
	}
	if err := s.store.UpdateStatus(number, status); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{
		"success":       true,
		"patent_number": number,
		"status":        body.Status,
	})
}

// handlePatentImage serves the design drawing, fetching and caching it
// on disk on first request. A miss returns 204 so the UI can show a
// placeholder.
func (s *Server) handlePatentImage(w http.ResponseWriter, r *http.Request, number string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok, err := s.store.GetPatent(number)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if !ok {
		writeError(w, 404, "patent not found")
		return
	}

	cacheFile := filepath.Join(s.cacheDir, number+".png")
	if data, err := os.ReadFile(cacheFile); err == nil {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
		return
	}

	data, err := s.fetcher.FetchPatentImage(r.Context(), p)
	if err != nil {
		writeError(w, 502, "image fetch failed")
		return
	}
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_ = os.MkdirAll(s.cacheDir, 0o755)
	if err := os.WriteFile(cacheFile, data, 0o644); err != nil {
		log.Printf("webui: cache image %s: %v", number, err)
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.tasks.HasRunning("scan") {
		writeError(w, 409, "a scan is already running")
		return
	}

	var body struct {
		DateFrom string `json:"date_from"`
		DateTo   string `json:"date_to"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var opts scan.Options
	if body.DateFrom != "" {
		from, err := time.Parse("2006-01-02", body.DateFrom)
		if err != nil {
			writeError(w, 400, "invalid date_from format, use YYYY-MM-DD")
			return
		}
		opts.From = from
	}
	if body.DateTo != "" {
		to, err := time.Parse("2006-01-02", body.DateTo)
		if err != nil {
			writeError(w, 400, "invalid date_to format, use YYYY-MM-DD")
			return
		}
		opts.To = to
	}

	id := s.tasks.Start("scan", func(progress func(string)) (any, error) {
		opts.Progress = progress
		result := s.scanner.Run(context.Background(), opts)
		return map[string]any{
			"new_matches":   result.NewMatches,
			"total_fetched": result.TotalFetched,
			"errors":        result.Errors,
			"duration":      fmt.Sprintf("%.1fs", result.Duration.Seconds()),
		}, nil
	})
	writeJSON(w, 200, map[string]any{"task_id": id})
}

func (s *Server) handleAnalyzeAll(w http.ResponseWriter, r *http.Request) {
	s.startAnalyze(w, r, nil)
}

func (s *Server) handleAnalyzeSingle(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/analyze/"), "/")
	if number == "" {
		writeError(w, 400, "patent number is required")
		return
	}
	if _, ok, err := s.store.GetPatent(number); err != nil {
		writeError(w, 500, err.Error())
		return
	} else if !ok {
		writeError(w, 404, fmt.Sprintf("patent %s not found", number))
		return
	}
	s.startAnalyze(w, r, []string{number})
}

func (s *Server) startAnalyze(w http.ResponseWriter, r *http.Request, numbers []string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.aiEnabled {
		writeError(w, 400, "AI analysis is not enabled in configuration")
		return
	}
	if s.tasks.HasRunning("analyze") {
		writeError(w, 409, "an analysis is already running")
		return
	}

	id := s.tasks.Start("analyze", func(progress func(string)) (any, error) {
		return s.analyzer.Run(context.Background(), numbers, progress)
	})
	writeJSON(w, 200, map[string]any{"task_id": id})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	task, ok := s.tasks.Get(id)
	if !ok {
		writeError(w, 404, "task not found")
		return
	}
	writeJSON(w, 200, task)
}
