// Package images fetches design patent drawings and loads product
// reference images for visual similarity analysis.
package images

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/joelkehle/designwatch/internal/patent"
)

const minImageBytes = 100

// Fetcher downloads the primary design drawing for a patent, trying a
// series of sources in order. A miss everywhere returns (nil, nil) so
// the analysis falls back to text-only.
type Fetcher struct {
	chromePath string
	maxRetries int
	mirrorBase string
	ppubsBase  string
	http       *http.Client

	renderPDF func(ctx context.Context, url string) ([]byte, error)
	sleep     func(time.Duration)
}

func NewFetcher(chromePath string, timeoutSeconds int) *Fetcher {
	f := &Fetcher{
		chromePath: chromePath,
		maxRetries: 2,
		mirrorBase: "https://patentimages.storage.googleapis.com",
		ppubsBase:  "https://image-ppubs.uspto.gov/dirsearch-public/print/downloadPdf",
		http: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		sleep: time.Sleep,
	}
	f.renderPDF = f.capturePDF
	return f
}

func (f *Fetcher) FetchPatentImage(ctx context.Context, p patent.Patent) ([]byte, error) {
	strategies := []struct {
		name  string
		fetch func(context.Context, patent.Patent) ([]byte, error)
	}{
		{"direct_url", f.fetchDirect},
		{"google_patents", f.fetchGooglePatents},
		{"ppubs_pdf", f.fetchPPUBS},
	}

	for _, s := range strategies {
		data, err := s.fetch(ctx, p)
		if err != nil {
			log.Printf("images: strategy %s failed for %s: %v", s.name, p.PatentNumber, err)
			continue
		}
		if len(data) > 0 {
			log.Printf("images: fetched drawing for %s via %s", p.PatentNumber, s.name)
			return data, nil
		}
	}
	log.Printf("images: no drawing found for %s", p.PatentNumber)
	return nil, nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, p patent.Patent) ([]byte, error) {
	if p.ImageURL == "" {
		return nil, nil
	}
	return f.download(ctx, p.ImageURL)
}

// fetchGooglePatents tries the predictable Google Patents storage URLs.
func (f *Fetcher) fetchGooglePatents(ctx context.Context, p patent.Patent) ([]byte, error) {
	num := normalizeNumber(p.PatentNumber)
	urls := []string{
		fmt.Sprintf("%s/US%s-20%s-D00001.png", f.mirrorBase, num, p.IssueDate.Format("060102")),
		fmt.Sprintf("%s/US%s-D00001.png", f.mirrorBase, num),
	}
	for _, url := range urls {
		data, err := f.download(ctx, url)
		if err != nil {
			continue
		}
		if len(data) > 0 {
			return data, nil
		}
	}
	return nil, nil
}

// fetchPPUBS downloads the PPUBS patent document and captures its first
// rendered page as a PNG.
func (f *Fetcher) fetchPPUBS(ctx context.Context, p patent.Patent) ([]byte, error) {
	num := normalizeNumber(p.PatentNumber)
	return f.renderPDF(ctx, f.ppubsBase+"/"+num)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "DesignWatch/1.0 (Design Patent Research Tool)")

		resp, err := f.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < f.maxRetries {
				f.sleep(time.Second)
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, nil
		case resp.StatusCode != http.StatusOK:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		case readErr != nil:
			lastErr = readErr
		case len(data) <= minImageBytes:
			return nil, nil // error page or placeholder, not an image
		default:
			return data, nil
		}
		if attempt < f.maxRetries {
			f.sleep(time.Second)
		}
	}
	return nil, lastErr
}

// capturePDF renders the PDF in headless Chromium and screenshots the
// viewport. The first page of a design patent PDF is the cover sheet,
// but PPUBS opens documents on the first drawing for design patents.
func (f *Fetcher) capturePDF(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if f.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(f.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var png []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(3*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
			if err != nil {
				return err
			}
			png = out
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return png, nil
}

func normalizeNumber(number string) string {
	num := strings.ReplaceAll(number, ",", "")
	if !strings.HasPrefix(num, "D") {
		num = "D" + num
	}
	return num
}
