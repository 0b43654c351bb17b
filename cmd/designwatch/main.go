package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joelkehle/designwatch/internal/analysis"
	"github.com/joelkehle/designwatch/internal/config"
	"github.com/joelkehle/designwatch/internal/gazette"
	"github.com/joelkehle/designwatch/internal/images"
	"github.com/joelkehle/designwatch/internal/matcher"
	"github.com/joelkehle/designwatch/internal/notify"
	"github.com/joelkehle/designwatch/internal/patent"
	"github.com/joelkehle/designwatch/internal/report"
	"github.com/joelkehle/designwatch/internal/scan"
	"github.com/joelkehle/designwatch/internal/store"
	"github.com/joelkehle/designwatch/internal/tracing"
	"github.com/joelkehle/designwatch/internal/uspto"
	"github.com/joelkehle/designwatch/internal/webui"
)

const usage = `designwatch monitors USPTO design patents and tracks PGR deadlines.

Usage: designwatch [--config path] <command> [flags]

Commands:
  run         Execute a full monitoring cycle: scan, analyze, notify
  scan        Scan sources for new design patents
  analyze     Run similarity analysis on unanalyzed patents
  report      Generate a report of tracked patents
  history     Show tracked patents, optionally filtered by status
  test-email  Send a test email to verify SMTP settings
  init-db     Initialize the tracking database
  web         Serve the monitoring dashboard
`

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	shutdownTracing := tracing.Init(ctx, tracing.Enabled())
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = shutdownTracing(shutdownCtx)
	}()

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "run":
		cmdRun(ctx, cfg)
	case "scan":
		cmdScan(ctx, cfg, args)
	case "analyze":
		cmdAnalyze(ctx, cfg, args)
	case "report":
		cmdReport(cfg, args)
	case "history":
		cmdHistory(cfg, args)
	case "test-email":
		cmdTestEmail(cfg)
	case "init-db":
		cmdInitDB(cfg)
	case "web":
		cmdWeb(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func mustValidate(cfg config.Config) {
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("config error: %s", e)
		}
		os.Exit(1)
	}
}

func openStore(cfg config.Config) *store.Store {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	return db
}

func buildScanner(cfg config.Config, db *store.Store) *scan.Scanner {
	var sources []scan.Source
	if cfg.Sources.USPTOAPI {
		sources = append(sources, uspto.NewClient(uspto.Config{
			BaseURL:            cfg.API.BaseURL,
			APIKey:             cfg.API.APIKey,
			RateLimitPerMinute: cfg.API.RateLimitPerMinute,
			TimeoutSeconds:     cfg.API.TimeoutSeconds,
			MaxRetries:         cfg.API.MaxRetries,
			Keywords:           allKeywords(cfg.SearchCriteria),
		}))
	}
	if cfg.Sources.OfficialGazette {
		sources = append(sources, gazette.NewScraper(detectChromePath(), cfg.API.TimeoutSeconds))
	}
	m := matcher.New(cfg.SearchCriteria)
	return scan.New(sources, m, db, cfg.InitialLookbackDays)
}

func buildAnalyzer(cfg config.Config) (*analysis.Analyzer, error) {
	caller, err := analysis.NewAnthropicCaller(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("init analysis client: %w", err)
	}
	return analysis.New(caller, cfg.AI.Model, cfg.AI.RateLimitPerMinute), nil
}

func allKeywords(criteria []patent.SearchCriteria) []string {
	var keywords []string
	for _, c := range criteria {
		keywords = append(keywords, c.Keywords...)
	}
	return keywords
}

// cmdRun is the full cycle: scan, analyze the new matches, email alerts,
// send deadline reminders, print a summary.
func cmdRun(ctx context.Context, cfg config.Config) {
	mustValidate(cfg)
	db := openStore(cfg)
	defer db.Close()

	scanResult := buildScanner(cfg, db).Run(ctx, scan.Options{})

	if cfg.AI.Enabled && len(scanResult.Alerts) > 0 {
		productImages, err := images.LoadProductImages(cfg.AI.ProductImagesDir, cfg.AI.MaxProductImages)
		if err != nil {
			log.Printf("load product images: %v", err)
		} else {
			numbers := make([]string, len(scanResult.Alerts))
			for i, a := range scanResult.Alerts {
				numbers[i] = a.Patent.PatentNumber
			}
			analyzer, err := buildAnalyzer(cfg)
			if err != nil {
				log.Printf("%v", err)
			} else {
				fetcher := images.NewFetcher(detectChromePath(), cfg.API.TimeoutSeconds)
				batch := analysis.RunBatch(ctx, analyzer, fetcher, db, productImages, numbers, nil)

				byNumber := make(map[string]patent.AnalysisResult, len(batch.Analyzed))
				for _, a := range batch.Analyzed {
					byNumber[a.PatentNumber] = a.Result
				}
				for i := range scanResult.Alerts {
					if r, ok := byNumber[scanResult.Alerts[i].Patent.PatentNumber]; ok {
						result := r
						scanResult.Alerts[i].Analysis = &result
					}
				}
			}
		}
	}

	notifier := notify.New(cfg.Notifications.Email, db)
	if len(scanResult.Alerts) > 0 {
		log.Printf("sending alerts for %d new matching patents", len(scanResult.Alerts))
		if err := notifier.SendNewPatentAlerts(scanResult.Alerts); err != nil {
			log.Printf("send alerts: %v", err)
		}
	}

	today := time.Now()
	for _, threshold := range cfg.Notifications.PGRReminderMonths {
		approaching, err := db.PatentsApproachingPGR(threshold, today)
		if err != nil {
			log.Printf("query approaching PGR: %v", err)
			continue
		}
		if len(approaching) == 0 {
			continue
		}
		log.Printf("PGR reminder: %d patents within %g months of deadline", len(approaching), threshold)
		if err := notifier.SendPGRReminder(approaching, threshold); err != nil {
			log.Printf("send PGR reminder: %v", err)
		}
	}

	total, _ := db.PatentCount()
	log.Printf("run complete: %d new matches, %d total patents tracked", scanResult.NewMatches, total)
	if len(scanResult.Alerts) > 0 {
		patents := make([]patent.Patent, len(scanResult.Alerts))
		for i, a := range scanResult.Alerts {
			patents[i] = a.Patent
		}
		fmt.Printf("\n%d new matching design patents found:\n", scanResult.NewMatches)
		fmt.Println(report.Table(patents, today))
	} else {
		fmt.Println("No new matching design patents found.")
	}
	for _, e := range scanResult.Errors {
		log.Printf("scan error: %s", e)
	}
}

func cmdScan(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	fromFlag := fs.String("from", "", "Window start (YYYY-MM-DD)")
	toFlag := fs.String("to", "", "Window end (YYYY-MM-DD)")
	_ = fs.Parse(args)

	mustValidate(cfg)
	db := openStore(cfg)
	defer db.Close()

	opts := scan.Options{Progress: func(msg string) { log.Print(msg) }}
	if *fromFlag != "" {
		opts.From = parseDate(*fromFlag, "from")
	}
	if *toFlag != "" {
		opts.To = parseDate(*toFlag, "to")
	}

	result := buildScanner(cfg, db).Run(ctx, opts)
	fmt.Printf("Fetched %d patents, %d new matches in %s\n",
		result.TotalFetched, result.NewMatches, result.Duration.Round(time.Second))
	for _, e := range result.Errors {
		log.Printf("scan error: %s", e)
	}
}

func cmdAnalyze(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	_ = fs.Parse(args)

	if !cfg.AI.Enabled {
		log.Fatal("AI analysis is not enabled in configuration")
	}
	mustValidate(cfg)
	db := openStore(cfg)
	defer db.Close()

	productImages, err := images.LoadProductImages(cfg.AI.ProductImagesDir, cfg.AI.MaxProductImages)
	if err != nil {
		log.Fatalf("load product images: %v", err)
	}

	analyzer, err := buildAnalyzer(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fetcher := images.NewFetcher(detectChromePath(), cfg.API.TimeoutSeconds)
	result := analysis.RunBatch(ctx, analyzer, fetcher, db, productImages, fs.Args(),
		func(msg string) { log.Print(msg) })

	fmt.Printf("Analyzed %d patents (%d skipped) in %s\n",
		len(result.Analyzed), result.Skipped, result.Duration.Round(time.Second))
	for _, e := range result.Errors {
		log.Printf("analysis error: %s", e)
	}
}

func cmdReport(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	format := fs.String("format", "table", "Output format: table, csv, summary")
	output := fs.String("output", "", "Write CSV to this file instead of stdout")
	_ = fs.Parse(args)

	db := openStore(cfg)
	defer db.Close()

	patents, err := db.AllPatents(500, 0)
	if err != nil {
		log.Fatalf("load patents: %v", err)
	}
	today := time.Now()

	switch *format {
	case "csv":
		if *output != "" {
			f, err := os.Create(*output)
			if err != nil {
				log.Fatalf("create %s: %v", *output, err)
			}
			defer f.Close()
			if err := report.WriteCSV(f, patents, today); err != nil {
				log.Fatalf("write csv: %v", err)
			}
			fmt.Printf("CSV exported to %s\n", *output)
			return
		}
		if err := report.WriteCSV(os.Stdout, patents, today); err != nil {
			log.Fatalf("write csv: %v", err)
		}
	case "summary":
		report.Summary(os.Stdout, patents, today)
	default:
		fmt.Println(report.Table(patents, today))
	}
}

func cmdHistory(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status: new, reviewed, flagged, dismissed")
	limit := fs.Int("limit", 50, "Maximum patents to show")
	_ = fs.Parse(args)

	db := openStore(cfg)
	defer db.Close()

	var patents []patent.Patent
	var err error
	if *status != "" {
		if !patent.ValidStatus(patent.Status(*status)) {
			log.Fatalf("invalid status %q", *status)
		}
		patents, err = db.PatentsByStatus(patent.Status(*status))
	} else {
		patents, err = db.AllPatents(*limit, 0)
	}
	if err != nil {
		log.Fatalf("load patents: %v", err)
	}
	if len(patents) == 0 {
		fmt.Println("No patents in database.")
		return
	}
	fmt.Println(report.Table(patents, time.Now()))
	fmt.Printf("\nTotal: %d patents\n", len(patents))
}

func cmdTestEmail(cfg config.Config) {
	db := openStore(cfg)
	defer db.Close()

	notifier := notify.New(cfg.Notifications.Email, db)
	if err := notifier.SendTestEmail(); err != nil {
		log.Fatalf("send test email: %v", err)
	}
	fmt.Printf("Test email sent to: %v\n", cfg.Notifications.Email.Recipients)
}

func cmdInitDB(cfg config.Config) {
	db := openStore(cfg)
	db.Close()
	fmt.Printf("Database initialized at %s\n", cfg.DatabasePath)
}

func cmdWeb(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("web", flag.ExitOnError)
	webDir := fs.String("web-dir", "web", "Directory containing dashboard files")
	_ = fs.Parse(args)

	mustValidate(cfg)
	db := openStore(cfg)
	defer db.Close()

	scanner := buildScanner(cfg, db)
	fetcher := images.NewFetcher(detectChromePath(), cfg.API.TimeoutSeconds)
	var analyzeRunner webui.AnalyzeRunner = &batchRunner{cfg: cfg, db: db, fetcher: fetcher}

	cacheDir := filepath.Join(filepath.Dir(cfg.DatabasePath), "patent_image_cache")
	handler := webui.NewServer(db, scanner, analyzeRunner, fetcher, *webDir, cacheDir, cfg.AI.Enabled)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	log.Printf("designwatch dashboard listening on %s", addr)
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// batchRunner adapts the analysis batch to the dashboard's task runner.
type batchRunner struct {
	cfg     config.Config
	db      *store.Store
	fetcher *images.Fetcher
}

func (b *batchRunner) Run(ctx context.Context, numbers []string, progress func(string)) (any, error) {
	productImages, err := images.LoadProductImages(b.cfg.AI.ProductImagesDir, b.cfg.AI.MaxProductImages)
	if err != nil {
		return nil, fmt.Errorf("load product images: %w", err)
	}
	analyzer, err := buildAnalyzer(b.cfg)
	if err != nil {
		return nil, err
	}
	result := analysis.RunBatch(ctx, analyzer, b.fetcher, b.db, productImages, numbers, progress)
	return map[string]any{
		"analyzed_count": len(result.Analyzed),
		"skipped":        result.Skipped,
		"errors":         result.Errors,
		"duration":       fmt.Sprintf("%.1fs", result.Duration.Seconds()),
	}, nil
}

func parseDate(v, name string) time.Time {
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		log.Fatalf("invalid --%s date %q, use YYYY-MM-DD", name, v)
	}
	return t
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
