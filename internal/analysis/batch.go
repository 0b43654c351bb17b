package analysis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joelkehle/designwatch/internal/patent"
)

// Store is the slice of the tracking store the batch runner needs.
type Store interface {
	GetPatent(patentNumber string) (patent.Patent, bool, error)
	PatentsWithoutAnalysis() ([]patent.Patent, error)
	SetAnalysis(patentNumber string, result patent.AnalysisResult) error
}

// ImageFetcher obtains the primary drawing for a patent. A (nil, nil)
// return means no image is available, which downgrades the analysis to
// text-only rather than failing it.
type ImageFetcher interface {
	FetchPatentImage(ctx context.Context, p patent.Patent) ([]byte, error)
}

type AnalyzedPatent struct {
	PatentNumber string
	Result       patent.AnalysisResult
}

// BatchResult summarizes one analysis batch.
type BatchResult struct {
	Analyzed []AnalyzedPatent
	Skipped  int
	Errors   []string
	Duration time.Duration
}

// RunBatch analyzes the given patents, or every patent without a stored
// result when patentNumbers is empty. One patent's failure is recorded and
// the batch continues; results are persisted as they are produced.
func RunBatch(
	ctx context.Context,
	analyzer *Analyzer,
	fetcher ImageFetcher,
	store Store,
	productImages []Image,
	patentNumbers []string,
	progress func(string),
) BatchResult {
	ctx, span := otel.Tracer("designwatch/analysis").Start(ctx, "analysis.RunBatch")
	defer span.End()

	result := BatchResult{}
	started := time.Now()
	defer func() {
		result.Duration = time.Since(started)
		span.SetAttributes(
			attribute.Int("analysis.analyzed", len(result.Analyzed)),
			attribute.Int("analysis.errors", len(result.Errors)),
		)
	}()

	if len(productImages) == 0 {
		result.Errors = append(result.Errors, "no product images found; add images to the product images directory")
		return result
	}

	patents, err := selectPatents(store, patentNumbers, &result)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if len(patents) == 0 {
		emitProgress(progress, "No patents to analyze")
		return result
	}

	for i, p := range patents {
		emitProgress(progress, fmt.Sprintf("Analyzing %s (%d/%d)...", p.PatentNumber, i+1, len(patents)))

		patentImage, imgErr := fetcher.FetchPatentImage(ctx, p)
		if imgErr != nil {
			// Missing drawings are routine; the analysis proceeds text-only.
			patentImage = nil
		}

		analysis := analyzer.Analyze(ctx, p, patentImage, productImages)
		if err := store.SetAnalysis(p.PatentNumber, analysis); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: store analysis: %v", p.PatentNumber, err))
			continue
		}
		result.Analyzed = append(result.Analyzed, AnalyzedPatent{PatentNumber: p.PatentNumber, Result: analysis})
	}

	emitProgress(progress, fmt.Sprintf("Analysis complete: %d analyzed, %d skipped",
		len(result.Analyzed), result.Skipped))
	return result
}

func selectPatents(store Store, patentNumbers []string, result *BatchResult) ([]patent.Patent, error) {
	if len(patentNumbers) == 0 {
		patents, err := store.PatentsWithoutAnalysis()
		if err != nil {
			return nil, fmt.Errorf("list unanalyzed patents: %w", err)
		}
		return patents, nil
	}
	var patents []patent.Patent
	for _, number := range patentNumbers {
		p, ok, err := store.GetPatent(number)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", number, err)
		}
		if !ok {
			result.Skipped++
			continue
		}
		patents = append(patents, p)
	}
	return patents, nil
}

func emitProgress(progress func(string), message string) {
	if progress != nil {
		progress(message)
	}
}
