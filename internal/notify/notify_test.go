package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/designwatch/internal/config"
	"github.com/joelkehle/designwatch/internal/patent"
)

type memStore struct {
	notified map[string]time.Time
	logged   []loggedNotification
}

type loggedNotification struct {
	patentNumber, notificationType, status, errText string
}

func newMemStore() *memStore {
	return &memStore{notified: make(map[string]time.Time)}
}

func (s *memStore) MarkNotified(patentNumber string, at time.Time) error {
	s.notified[patentNumber] = at
	return nil
}

func (s *memStore) LogNotification(patentNumber, notificationType, recipient, status, errText string) error {
	s.logged = append(s.logged, loggedNotification{patentNumber, notificationType, status, errText})
	return nil
}

func testConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Enabled:    true,
		Host:       "smtp.example.com",
		Port:       587,
		UseTLS:     true,
		User:       "monitor@example.com",
		Recipients: []string{"legal@example.com"},
	}
}

func capturedNotifier(store Store) (*Notifier, *[]string, *[]string) {
	n := New(testConfig(), store)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	var subjects, bodies []string
	n.send = func(subject, body string) error {
		subjects = append(subjects, subject)
		bodies = append(bodies, body)
		return nil
	}
	return n, &subjects, &bodies
}

func sampleAlert() patent.Alert {
	return patent.Alert{
		Patent: patent.Patent{
			PatentNumber:     "D1234567",
			Title:            "Eyeglass frame",
			IssueDate:        time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			Assignee:         "Acme Corp",
			Inventors:        []string{"Jane Doe"},
			ClassificationUS: "D16/300",
			Status:           patent.StatusNew,
		},
		MatchedCriteria: []string{"US class: D16/300 (criteria: eyewear)"},
	}
}

func TestSendNewPatentAlerts(t *testing.T) {
	store := newMemStore()
	n, subjects, bodies := capturedNotifier(store)

	if err := n.SendNewPatentAlerts([]patent.Alert{sampleAlert()}); err != nil {
		t.Fatalf("SendNewPatentAlerts: %v", err)
	}
	if len(*subjects) != 1 {
		t.Fatalf("sent %d emails, want 1", len(*subjects))
	}
	if (*subjects)[0] != "Patent Monitor: 1 new design patent found" {
		t.Errorf("subject = %q", (*subjects)[0])
	}

	body := (*bodies)[0]
	for _, want := range []string{"D1234567", "Eyeglass frame", "Acme Corp", "October 15, 2026", "<table>"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}

	if _, ok := store.notified["D1234567"]; !ok {
		t.Error("patent not marked notified after send")
	}
	if len(store.logged) != 1 || store.logged[0].status != "sent" {
		t.Errorf("logged = %+v", store.logged)
	}
}

func TestSendNewPatentAlertsEmpty(t *testing.T) {
	n, subjects, _ := capturedNotifier(newMemStore())
	if err := n.SendNewPatentAlerts(nil); err != nil {
		t.Fatalf("SendNewPatentAlerts: %v", err)
	}
	if len(*subjects) != 0 {
		t.Error("no alerts should send no email")
	}
}

func TestSendFailureIsLoggedAndNotMarked(t *testing.T) {
	store := newMemStore()
	n, _, _ := capturedNotifier(store)
	n.send = func(string, string) error { return errors.New("connection refused") }

	if err := n.SendNewPatentAlerts([]patent.Alert{sampleAlert()}); err == nil {
		t.Fatal("expected error from failed send")
	}
	if len(store.notified) != 0 {
		t.Error("failed send must not mark patents notified")
	}
	if len(store.logged) != 1 || store.logged[0].status != "failed" {
		t.Errorf("logged = %+v", store.logged)
	}
	if !strings.Contains(store.logged[0].errText, "connection refused") {
		t.Errorf("errText = %q", store.logged[0].errText)
	}
}

func TestSendPGRReminder(t *testing.T) {
	store := newMemStore()
	n, subjects, bodies := capturedNotifier(store)

	p := sampleAlert().Patent
	p.Status = patent.StatusFlagged
	if err := n.SendPGRReminder([]patent.Patent{p}, 6); err != nil {
		t.Fatalf("SendPGRReminder: %v", err)
	}
	if got := (*subjects)[0]; !strings.Contains(got, "PGR DEADLINE REMINDER") || !strings.Contains(got, "6 months") {
		t.Errorf("subject = %q", got)
	}
	if !strings.Contains((*bodies)[0], "PGR Deadline Approaching") {
		t.Error("body missing reminder title")
	}
	if store.logged[0].notificationType != "pgr_reminder" {
		t.Errorf("notificationType = %q", store.logged[0].notificationType)
	}
	if len(store.notified) != 0 {
		t.Error("reminders must not re-mark patents notified")
	}
}

func TestDisabledConfigSkipsSend(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.Enabled = false
	n := New(cfg, store)
	sent := false
	n.send = func(string, string) error { sent = true; return nil }

	if err := n.SendNewPatentAlerts([]patent.Alert{sampleAlert()}); err != nil {
		t.Fatalf("SendNewPatentAlerts: %v", err)
	}
	if sent {
		t.Error("disabled notifier must not send")
	}
}

func TestNoRecipientsIsError(t *testing.T) {
	cfg := testConfig()
	cfg.Recipients = nil
	n := New(cfg, newMemStore())
	n.send = func(string, string) error { return nil }

	if err := n.SendTestEmail(); err == nil {
		t.Error("expected error with no recipients")
	}
}

func TestAnalysisSectionInBody(t *testing.T) {
	store := newMemStore()
	n, _, bodies := capturedNotifier(store)

	a := sampleAlert()
	a.Analysis = &patent.AnalysisResult{
		SimilarityScore:   85,
		RiskLevel:         patent.RiskHigh,
		Recommendation:    patent.RecommendFlag,
		Reasoning:         "Nearly identical temple profile.",
		PatentImageUsed:   true,
		ProductImagesUsed: []string{"front.jpg", "side.jpg"},
	}
	if err := n.SendNewPatentAlerts([]patent.Alert{a}); err != nil {
		t.Fatalf("SendNewPatentAlerts: %v", err)
	}
	body := (*bodies)[0]
	for _, want := range []string{"85% similarity", "HIGH", "FLAG", "Nearly identical temple profile.", "Visual + text analysis"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}
