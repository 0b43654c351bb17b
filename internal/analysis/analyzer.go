// Package analysis scores visual similarity between newly tracked design
// patents and a set of reference product images, using a vision-capable
// model behind a narrow Caller interface. The model's reply is free text;
// normalization reduces it to a bounded AnalysisResult no matter what came
// back. Failures never escape a single patent: they become sentinel
// results tagged with the failure reason.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
)

const systemPrompt = `You are a design patent analysis specialist. You compare newly granted design patent drawings against reference product images to assess visual similarity and potential infringement risk.

You MUST respond with ONLY a valid JSON object in this exact format — no markdown, no explanation, no code fences:
{
  "similarity_score": <integer 0-100>,
  "risk_level": "<high|medium|low|none>",
  "recommendation": "<flag|monitor|dismiss>",
  "reasoning": "<2-3 sentence explanation>"
}

Scoring guidelines:
- 0-20: No meaningful visual similarity in overall design appearance
- 21-40: Minor surface-level similarities (common design elements shared by many products)
- 41-60: Moderate similarity in some distinctive design features
- 61-80: Significant similarity in overall appearance and distinctive elements
- 81-100: Near-identical or highly similar design that could cause confusion

Focus on: overall shape/silhouette, proportions, distinctive ornamental features, surface treatments, and arrangement of design elements. Ignore functional or utilitarian aspects.`

const textOnlyNote = `

NOTE: No patent drawing image is available. Analyze based on the patent title, abstract, and classification codes compared to the product descriptions. Be conservative in scoring — without visual comparison, reduce confidence and score accordingly.`

// Image is a named reference image.
type Image struct {
	Name string
	Data []byte
}

// Caller performs one model invocation and returns the raw text reply.
// Interpreting that text is the Analyzer's job, not the Caller's.
type Caller interface {
	Analyze(ctx context.Context, system string, p patent.Patent, patentImage []byte, productImages []Image) (string, error)
}

type failureClass int

const (
	failureRateLimit failureClass = iota
	failureServer
	failureTimeout
	failureOther
)

const maxCallRetries = 3

// Analyzer wraps a Caller with inter-call spacing, bounded retries and
// response normalization.
type Analyzer struct {
	caller      Caller
	model       string
	minInterval time.Duration
	lastCall    time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func New(caller Caller, model string, rateLimitPerMinute int) *Analyzer {
	minInterval := time.Duration(0)
	if rateLimitPerMinute > 0 {
		minInterval = time.Minute / time.Duration(rateLimitPerMinute)
	}
	return &Analyzer{
		caller:      caller,
		model:       model,
		minInterval: minInterval,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Analyze scores one patent against the product images. It always returns
// a well-formed result: a call that fails after retries, or a reply that
// cannot be parsed, yields a sentinel result with an error tag instead of
// an error.
func (a *Analyzer) Analyze(ctx context.Context, p patent.Patent, patentImage []byte, productImages []Image) patent.AnalysisResult {
	system := systemPrompt
	if patentImage == nil {
		system += textOnlyNote
	}

	raw, err := a.callWithRetry(ctx, system, p, patentImage, productImages)
	var result patent.AnalysisResult
	if err != nil {
		result = sentinelResult(fmt.Sprintf("analysis call failed: %v", err), err.Error())
	} else {
		result = parseResponse(raw)
	}

	result.PatentImageUsed = patentImage != nil
	for _, img := range productImages {
		result.ProductImagesUsed = append(result.ProductImagesUsed, img.Name)
	}
	result.ModelUsed = a.model
	result.AnalyzedAt = a.now()
	return result
}

// callWithRetry enforces the minimum inter-call spacing before every
// attempt, retries rate-limit and server-side failures with exponential
// backoff, and treats anything else as terminal.
func (a *Analyzer) callWithRetry(ctx context.Context, system string, p patent.Patent, patentImage []byte, productImages []Image) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxCallRetries; attempt++ {
		a.pace()
		raw, err := a.caller.Analyze(ctx, system, p, patentImage, productImages)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		switch classifyCallError(err) {
		case failureRateLimit:
			if attempt < maxCallRetries {
				a.sleep(rateLimitBackoff(attempt))
				continue
			}
		case failureServer, failureTimeout:
			if attempt < maxCallRetries {
				a.sleep(time.Duration(1<<attempt) * time.Second)
				continue
			}
		default:
			return "", err
		}
	}
	return "", fmt.Errorf("call failed after %d attempts: %w", maxCallRetries, lastErr)
}

func (a *Analyzer) pace() {
	if a.minInterval <= 0 {
		return
	}
	if elapsed := a.now().Sub(a.lastCall); elapsed < a.minInterval {
		a.sleep(a.minInterval - elapsed)
	}
	a.lastCall = a.now()
}

func rateLimitBackoff(attempt int) time.Duration {
	wait := time.Duration(1<<attempt) * 5 * time.Second
	if wait > time.Minute {
		wait = time.Minute
	}
	return wait
}

func classifyCallError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded") || strings.Contains(msg, "server error"):
		return failureServer
	default:
		return failureOther
	}
}
