// Package uspto implements the USPTO Open Data Portal search client as a
// scan source. It queries the patent applications search endpoint with a
// Lucene-style query for granted design patents in a grant-date window.
package uspto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
	"github.com/joelkehle/designwatch/internal/scan"
)

const (
	searchEndpoint = "/api/v1/patent/applications/search"
	pageSize       = 25
)

type Client struct {
	baseURL     string
	apiKey      string
	maxRetries  int
	minInterval time.Duration
	lastRequest time.Time
	keywords    []string
	http        *http.Client

	sleep func(time.Duration)
}

// Config carries the client settings; Keywords narrows the server-side
// query to titles mentioning any configured keyword (the matcher still
// makes the final decision).
type Config struct {
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
	Keywords           []string
}

func NewClient(cfg Config) *Client {
	minInterval := time.Duration(0)
	if cfg.RateLimitPerMinute > 0 {
		minInterval = time.Minute / time.Duration(cfg.RateLimitPerMinute)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		maxRetries:  maxRetries,
		minInterval: minInterval,
		keywords:    cfg.Keywords,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		sleep: time.Sleep,
	}
}

func (c *Client) Name() string { return "api" }

// Fetch pages through all granted design patents in the window.
func (c *Client) Fetch(ctx context.Context, window scan.Window) ([]patent.Patent, error) {
	var all []patent.Patent
	offset := 0

	for {
		page, total, err := c.searchPage(ctx, window, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		offset += pageSize
		if offset >= total {
			break
		}
	}
	return all, nil
}

type searchResponse struct {
	Count int               `json:"count"`
	Bag   []json.RawMessage `json:"patentFileWrapperDataBag"`
}

func (c *Client) searchPage(ctx context.Context, window scan.Window, offset int) ([]patent.Patent, int, error) {
	params := url.Values{}
	params.Set("q", c.buildQuery(window))
	params.Set("rows", strconv.Itoa(pageSize))
	params.Set("start", strconv.Itoa(offset))
	params.Set("sort", "applicationMetaData.grantDate desc")

	body, err := c.get(ctx, searchEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, 0, err
	}
	if body == nil {
		return nil, 0, nil // 404: no results
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	var patents []patent.Patent
	for _, item := range resp.Bag {
		if p, ok := parsePatent(item); ok {
			patents = append(patents, p)
		}
	}
	return patents, resp.Count, nil
}

// get performs one rate-limited GET with retries: 429 and 5xx back off
// exponentially, 404 returns (nil, nil).
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.pace()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				c.sleep(time.Duration(1<<attempt) * time.Second)
				continue
			}
			break
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			if attempt < c.maxRetries {
				c.sleep(rateLimitWait(attempt))
				continue
			}
		case resp.StatusCode == http.StatusNotFound:
			return nil, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			if attempt < c.maxRetries {
				c.sleep(time.Duration(1<<attempt) * time.Second)
				continue
			}
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("uspto search failed status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
		case readErr != nil:
			return nil, readErr
		default:
			return body, nil
		}
	}
	return nil, fmt.Errorf("uspto request failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) pace() {
	if c.minInterval <= 0 {
		return
	}
	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		c.sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

func rateLimitWait(attempt int) time.Duration {
	wait := time.Duration(1<<attempt) * 5 * time.Second
	if wait > time.Minute {
		wait = time.Minute
	}
	return wait
}

func (c *Client) buildQuery(window scan.Window) string {
	parts := []string{
		"applicationMetaData.applicationTypeLabelName:Design",
		"applicationMetaData.applicationStatusCode:150",
		fmt.Sprintf("applicationMetaData.grantDate:[%s TO %s]",
			window.From.Format("2006-01-02"), window.To.Format("2006-01-02")),
	}
	if len(c.keywords) > 0 {
		var clauses []string
		for _, kw := range c.keywords {
			clauses = append(clauses, fmt.Sprintf("applicationMetaData.inventionTitle:%q", kw))
		}
		parts = append(parts, "("+strings.Join(clauses, " OR ")+")")
	}
	return strings.Join(parts, " AND ")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
