package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
)

func fakeImage(size int) []byte {
	return bytes.Repeat([]byte{0x89}, size)
}

func newTestFetcher(baseURL string) *Fetcher {
	f := NewFetcher("", 5)
	f.sleep = func(time.Duration) {}
	f.mirrorBase = baseURL
	f.ppubsBase = baseURL + "/ppubs"
	f.renderPDF = func(context.Context, string) ([]byte, error) {
		return nil, errors.New("no browser in tests")
	}
	return f
}

func TestFetchDirectURLFirst(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write(fakeImage(500))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	p := patent.Patent{
		PatentNumber: "D1234567",
		ImageURL:     srv.URL + "/gazette/D1234567.png",
		IssueDate:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}
	data, err := f.FetchPatentImage(context.Background(), p)
	if err != nil {
		t.Fatalf("FetchPatentImage: %v", err)
	}
	if len(data) != 500 {
		t.Errorf("got %d bytes, want 500", len(data))
	}
	if len(paths) != 1 || paths[0] != "/gazette/D1234567.png" {
		t.Errorf("paths = %v, want only the direct URL", paths)
	}
}

func TestFetchFallsBackToMirror(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.Contains(r.URL.Path, "-20260210-") {
			w.Write(fakeImage(500))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	p := patent.Patent{
		PatentNumber: "D1234567",
		IssueDate:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}
	data, err := f.FetchPatentImage(context.Background(), p)
	if err != nil {
		t.Fatalf("FetchPatentImage: %v", err)
	}
	if len(data) != 500 {
		t.Errorf("got %d bytes, want 500", len(data))
	}
	want := "/US" + "D1234567" + "-20260210-D00001.png"
	found := false
	for _, p := range paths {
		if p == want {
			found = true
		}
	}
	if !found {
		t.Errorf("mirror URL %s not requested, paths = %v", want, paths)
	}
}

func TestFetchAllMissReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	p := patent.Patent{
		PatentNumber: "D1234567",
		IssueDate:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}
	data, err := f.FetchPatentImage(context.Background(), p)
	if err != nil {
		t.Fatalf("FetchPatentImage: %v", err)
	}
	if data != nil {
		t.Errorf("got %d bytes, want nil on total miss", len(data))
	}
}

func TestDownloadRejectsTinyResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "nope")
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL)
	data, err := f.download(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if data != nil {
		t.Errorf("tiny response should be treated as a miss, got %d bytes", len(data))
	}
}

func TestLoadProductImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "c.webp", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), fakeImage(200), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	images, err := LoadProductImages(dir, 2)
	if err != nil {
		t.Fatalf("LoadProductImages: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2 (capped)", len(images))
	}
	if images[0].Name != "a.jpg" || images[1].Name != "b.png" {
		t.Errorf("names = %s, %s, want sorted a.jpg, b.png", images[0].Name, images[1].Name)
	}
}

func TestLoadProductImagesMissingDir(t *testing.T) {
	if _, err := LoadProductImages("/does/not/exist", 3); err == nil {
		t.Error("expected error for missing directory")
	}
}
