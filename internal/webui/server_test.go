package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
	"github.com/joelkehle/designwatch/internal/scan"
)

type fakeStore struct {
	patents map[string]patent.Patent
	updated map[string]patent.Status
}

func newFakeStore(patents ...patent.Patent) *fakeStore {
	s := &fakeStore{
		patents: make(map[string]patent.Patent),
		updated: make(map[string]patent.Status),
	}
	for _, p := range patents {
		s.patents[p.PatentNumber] = p
	}
	return s
}

func (s *fakeStore) GetPatent(num string) (patent.Patent, bool, error) {
	p, ok := s.patents[num]
	return p, ok, nil
}

func (s *fakeStore) AllPatents(limit, offset int) ([]patent.Patent, error) {
	var out []patent.Patent
	for _, p := range s.patents {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) PatentsByStatus(status patent.Status) ([]patent.Patent, error) {
	var out []patent.Patent
	for _, p := range s.patents {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) PatentsByDateRange(from, to time.Time, limit int) ([]patent.Patent, error) {
	return nil, nil
}

func (s *fakeStore) PatentsWithoutAnalysis() ([]patent.Patent, error) {
	var out []patent.Patent
	for _, p := range s.patents {
		if p.Analysis == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) PatentCount() (int, error) { return len(s.patents), nil }

func (s *fakeStore) CountsByStatus() (map[patent.Status]int, error) {
	counts := make(map[patent.Status]int)
	for _, p := range s.patents {
		counts[p.Status]++
	}
	return counts, nil
}

func (s *fakeStore) RecentRuns(limit int) ([]patent.SearchRun, error) { return nil, nil }

func (s *fakeStore) LastSuccessfulRun(source string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *fakeStore) UpdateStatus(num string, status patent.Status) error {
	p, ok := s.patents[num]
	if !ok {
		return errors.New("not tracked")
	}
	p.Status = status
	s.patents[num] = p
	s.updated[num] = status
	return nil
}

type fakeScanner struct {
	result scan.Result
	opts   scan.Options
}

func (f *fakeScanner) Run(ctx context.Context, opts scan.Options) scan.Result {
	f.opts = opts
	return f.result
}

type fakeAnalyzer struct {
	numbers []string
	err     error
}

func (f *fakeAnalyzer) Run(ctx context.Context, numbers []string, progress func(string)) (any, error) {
	f.numbers = numbers
	return map[string]any{"analyzed_count": 1}, f.err
}

type fakeImageFetcher struct {
	data []byte
	err  error
}

func (f *fakeImageFetcher) FetchPatentImage(ctx context.Context, p patent.Patent) ([]byte, error) {
	return f.data, f.err
}

func samplePatent(num string, status patent.Status) patent.Patent {
	return patent.Patent{
		PatentNumber: num,
		Title:        "Eyeglass frame",
		IssueDate:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:       status,
	}
}

func newTestServer(t *testing.T, store Store, scanner ScanRunner, analyzer AnalyzeRunner, fetcher ImageFetcher) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(store, scanner, analyzer, fetcher, t.TempDir(), t.TempDir(), true))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func postJSON(t *testing.T, url, body string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func waitForTask(t *testing.T, baseURL, taskID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out := getJSON(t, baseURL+"/api/tasks/"+taskID, 200)
		if out["status"] != string(TaskRunning) {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not finish")
	return nil
}

func TestDashboard(t *testing.T) {
	store := newFakeStore(
		samplePatent("D1", patent.StatusNew),
		samplePatent("D2", patent.StatusFlagged),
	)
	p := samplePatent("D3", patent.StatusReviewed)
	p.Analysis = &patent.AnalysisResult{RiskLevel: patent.RiskHigh}
	store.patents["D3"] = p

	srv := newTestServer(t, store, &fakeScanner{}, &fakeAnalyzer{}, &fakeImageFetcher{})
	out := getJSON(t, srv.URL+"/api/dashboard", 200)

	if out["total_patents"].(float64) != 3 {
		t.Errorf("total_patents = %v", out["total_patents"])
	}
	if out["pending_analysis"].(float64) != 2 {
		t.Errorf("pending_analysis = %v", out["pending_analysis"])
	}
	if out["high_risk_count"].(float64) != 1 {
		t.Errorf("high_risk_count = %v", out["high_risk_count"])
	}
}

func TestPatentDetailAndNotFound(t *testing.T) {
	store := newFakeStore(samplePatent("D1234567", patent.StatusNew))
	srv := newTestServer(t, store, &fakeScanner{}, &fakeAnalyzer{}, &fakeImageFetcher{})

	out := getJSON(t, srv.URL+"/api/patents/D1234567", 200)
	p := out["patent"].(map[string]any)
	if p["patent_number"] != "D1234567" {
		t.Errorf("patent_number = %v", p["patent_number"])
	}

	getJSON(t, srv.URL+"/api/patents/D9999999", 404)
}

func TestUpdateStatus(t *testing.T) {
	store := newFakeStore(samplePatent("D1234567", patent.StatusNew))
	srv := newTestServer(t, store, &fakeScanner{}, &fakeAnalyzer{}, &fakeImageFetcher{})

	out := postJSON(t, srv.URL+"/api/patents/D1234567/status", `{"status":"flagged"}`, 200)
	if out["success"] != true {
		t.Errorf("response = %v", out)
	}
	if store.updated["D1234567"] != patent.StatusFlagged {
		t.Errorf("status not updated, got %v", store.updated)
	}

	postJSON(t, srv.URL+"/api/patents/D1234567/status", `{"status":"bogus"}`, 400)
	postJSON(t, srv.URL+"/api/patents/D9999999/status", `{"status":"flagged"}`, 404)
}

func TestScanTaskLifecycle(t *testing.T) {
	scanner := &fakeScanner{result: scan.Result{NewMatches: 2, TotalFetched: 10}}
	srv := newTestServer(t, newFakeStore(), scanner, &fakeAnalyzer{}, &fakeImageFetcher{})

	out := postJSON(t, srv.URL+"/api/scan", `{"date_from":"2026-01-01","date_to":"2026-02-01"}`, 200)
	taskID := out["task_id"].(string)

	task := waitForTask(t, srv.URL, taskID)
	if task["status"] != string(TaskCompleted) {
		t.Fatalf("task = %v", task)
	}
	result := task["result"].(map[string]any)
	if result["new_matches"].(float64) != 2 {
		t.Errorf("result = %v", result)
	}
	if !scanner.opts.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("From = %v", scanner.opts.From)
	}
}

func TestScanRejectsBadDate(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeScanner{}, &fakeAnalyzer{}, &fakeImageFetcher{})
	postJSON(t, srv.URL+"/api/scan", `{"date_from":"01/02/2026"}`, 400)
}

func TestAnalyzeSingleUnknownPatent(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeScanner{}, &fakeAnalyzer{}, &fakeImageFetcher{})
	postJSON(t, srv.URL+"/api/analyze/D9999999", "", 404)
}

func TestAnalyzeSingleRunsTask(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	store := newFakeStore(samplePatent("D1234567", patent.StatusNew))
	srv := newTestServer(t, store, &fakeScanner{}, analyzer, &fakeImageFetcher{})

	out := postJSON(t, srv.URL+"/api/analyze/D1234567", "", 200)
	task := waitForTask(t, srv.URL, out["task_id"].(string))
	if task["status"] != string(TaskCompleted) {
		t.Fatalf("task = %v", task)
	}
	if len(analyzer.numbers) != 1 || analyzer.numbers[0] != "D1234567" {
		t.Errorf("numbers = %v", analyzer.numbers)
	}
}

func TestFailedTaskReportsError(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("api key missing")}
	store := newFakeStore(samplePatent("D1234567", patent.StatusNew))
	srv := newTestServer(t, store, &fakeScanner{}, analyzer, &fakeImageFetcher{})

	out := postJSON(t, srv.URL+"/api/analyze", "", 200)
	task := waitForTask(t, srv.URL, out["task_id"].(string))
	if task["status"] != string(TaskFailed) {
		t.Fatalf("task = %v", task)
	}
	if !strings.Contains(task["error"].(string), "api key missing") {
		t.Errorf("error = %v", task["error"])
	}
}

func TestPatentImageMissReturns204(t *testing.T) {
	store := newFakeStore(samplePatent("D1234567", patent.StatusNew))
	srv := newTestServer(t, store, &fakeScanner{}, &fakeAnalyzer{}, &fakeImageFetcher{})

	resp, err := http.Get(srv.URL + "/api/patents/D1234567/image")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestTaskManagerHasRunning(t *testing.T) {
	tm := NewTaskManager()
	release := make(chan struct{})
	id := tm.Start("scan", func(progress func(string)) (any, error) {
		progress("working")
		<-release
		return nil, nil
	})

	if !tm.HasRunning("scan") {
		t.Error("HasRunning(scan) = false while task runs")
	}
	if tm.HasRunning("analyze") {
		t.Error("HasRunning(analyze) = true for scan task")
	}
	msgDeadline := time.Now().Add(time.Second)
	for time.Now().Before(msgDeadline) {
		if task, _ := tm.Get(id); task.Message == "working" {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if task, _ := tm.Get(id); task.Message != "working" {
		t.Errorf("Message = %q", task.Message)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for tm.HasRunning("scan") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	task, ok := tm.Get(id)
	if !ok || task.Status != TaskCompleted {
		t.Errorf("task = %+v", task)
	}
}
