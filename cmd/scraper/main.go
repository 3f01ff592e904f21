package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-notebooks/config"
	"github.com/aluiziolira/go-scrape-notebooks/models"
	"github.com/aluiziolira/go-scrape-notebooks/pipeline"
	"github.com/aluiziolira/go-scrape-notebooks/scraper"
	"github.com/aluiziolira/go-scrape-notebooks/storage"
)

func main() {
	defaults := config.DefaultConfig()

	configPath := flag.String("config", "", "Optional YAML config file")
	listingURL := flag.String("listing-url", defaults.ListingURL, "Listing URL to crawl")
	maxPages := flag.Int("pages", defaults.MaxPages, "Maximum listing pages to crawl (0 = all)")
	delayMs := flag.Int("delay", 0, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	timeout := flag.Duration("timeout", defaults.Timeout, "HTTP request timeout")
	maxAttempts := flag.Uint("max-attempts", defaults.Retry.MaxAttempts, "Attempts per URL (0 = retry until success)")
	retryDelayMs := flag.Int("retry-delay", int(defaults.Retry.Delay/time.Millisecond), "Delay between attempts (milliseconds)")
	retryMaxDelayMs := flag.Int("retry-max-delay", int(defaults.Retry.MaxDelay/time.Millisecond), "Upper bound for exponential backoff (milliseconds)")
	backoff := flag.String("backoff", defaults.Retry.Backoff, "Retry backoff: fixed or exponential")
	dedupeSize := flag.Int("dedupe-size", defaults.DedupeMaxSize, "Detail links remembered per run (0 disables)")
	outputFile := flag.String("output", "", "Optional export file path")
	outputFormat := flag.String("format", "", "Export format: csv or json")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listing-url":
			cfg.ListingURL = *listingURL
		case "pages":
			cfg.MaxPages = *maxPages
		case "delay":
			cfg.Delay = time.Duration(*delayMs) * time.Millisecond
		case "random-delay":
			cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
		case "timeout":
			cfg.Timeout = *timeout
		case "max-attempts":
			cfg.Retry.MaxAttempts = *maxAttempts
		case "retry-delay":
			cfg.Retry.Delay = time.Duration(*retryDelayMs) * time.Millisecond
		case "retry-max-delay":
			cfg.Retry.MaxDelay = time.Duration(*retryMaxDelayMs) * time.Millisecond
		case "backoff":
			cfg.Retry.Backoff = strings.ToLower(*backoff)
		case "dedupe-size":
			cfg.DedupeMaxSize = *dedupeSize
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current step")
	}()

	slog.Info("starting crawl",
		slog.String("listing_url", cfg.ListingURL),
		slog.Int("max_pages", cfg.MaxPages),
		slog.Uint64("max_attempts", uint64(cfg.Retry.MaxAttempts)),
		slog.String("database", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)),
	)

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := storage.NewNotebookStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	writer, err := createWriter(cfg, store)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	metrics := scraper.NewMetrics()
	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}

	p := pipeline.NewPipeline(writer)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	crawler, err := scraper.NewCrawler(cfg, fetcher, p, metrics)
	if err != nil {
		return fmt.Errorf("initialising crawler: %w", err)
	}

	result, runErr := crawler.Run(ctx)
	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		printSummary(result, nil, p.GetMetrics())
		return runErr
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		slog.Warn("reading table sizes", slog.Any("error", err))
	}
	printSummary(result, stats, p.GetMetrics())
	return nil
}

func createWriter(cfg *config.Config, store *storage.NotebookStore) (pipeline.OutputWriter, error) {
	var export pipeline.OutputWriter
	switch cfg.OutputFormat {
	case "":
	case "json":
		w, err := pipeline.NewJSONWriter(cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		export = w
	case "csv":
		w, err := pipeline.NewCSVWriter(cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		export = w
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
	return pipeline.NewMultiWriter(store, export), nil
}

func printSummary(result *models.CrawlResult, stats map[string]int64, metrics map[string]interface{}) {
	if result == nil {
		return
	}
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Listing pages: %d\n", result.ListingPages)
	fmt.Printf("  Detail pages:  %d\n", result.DetailPages)
	fmt.Printf("  Extracted:     %d\n", result.Extracted)
	fmt.Printf("  Written:       %d\n", result.Written)
	fmt.Printf("  Malformed:     %d\n", result.Malformed)
	fmt.Printf("  Revisits:      %d\n", result.SkippedVisited)
	fmt.Printf("  Failed pages:  %d\n", result.FailedBatches)
	if result.FailedExports > 0 {
		fmt.Printf("  Failed exports: %d\n", result.FailedExports)
	}
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	if stats != nil {
		fmt.Printf("  Stored:        %d notebooks, %d images\n", stats["notebook"], stats["image"])
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	if duration.Seconds() > 0 {
		fmt.Printf("  Items/sec:     %.2f\n", float64(result.Extracted)/duration.Seconds())
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
