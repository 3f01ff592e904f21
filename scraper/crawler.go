package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-notebooks/config"
	"github.com/aluiziolira/go-scrape-notebooks/models"
	"github.com/aluiziolira/go-scrape-notebooks/parser"
	"github.com/aluiziolira/go-scrape-notebooks/pipeline"
)

// Crawler walks the listing pagination and persists every priced notebook
// page by page. All work happens on the calling goroutine.
type Crawler struct {
	cfg      *config.Config
	fetcher  *Fetcher
	pipeline *pipeline.Pipeline
	Metrics  *Metrics

	visited *lru.Cache[string, struct{}]
}

// NewCrawler wires the fetcher and pipeline together. A nil metrics value
// disables instrumentation.
func NewCrawler(cfg *config.Config, fetcher *Fetcher, p *pipeline.Pipeline, metrics *Metrics) (*Crawler, error) {
	c := &Crawler{
		cfg:      cfg,
		fetcher:  fetcher,
		pipeline: p,
		Metrics:  metrics,
	}
	if cfg.DedupeMaxSize > 0 {
		cache, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
		if err != nil {
			return nil, fmt.Errorf("create visited cache: %w", err)
		}
		c.visited = cache
	}
	return c, nil
}

// Run crawls from the configured listing URL until a listing page carries
// no next cursor, MaxPages is reached or ctx is cancelled. The returned
// result is populated even when an error ends the run.
func (c *Crawler) Run(ctx context.Context) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.CrawlResult{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	defer func() {
		result.EndTime = time.Now()
		result.RetryCount = c.fetcher.Retries()
	}()

	pageURL := c.cfg.ListingURL
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.ErrorsByType[errorTypeLabel(err)]++
			result.FailedURLs = append(result.FailedURLs, pageURL)
			return result, fmt.Errorf("listing page %d: %w", result.ListingPages+1, err)
		}
		result.ListingPages++
		c.Metrics.IncPage("listing")

		listing := parser.ExtractListing(doc)
		if listing.Err != nil {
			slog.Warn("pagination payload unreadable, treating page as last",
				slog.String("url", pageURL),
				slog.Any("error", listing.Err),
			)
		}
		slog.Info("listing page fetched",
			slog.Int("page", result.ListingPages),
			slog.Int("links", len(listing.Links)),
			slog.Bool("has_next", listing.NextToken != ""),
		)

		page := c.collectPage(ctx, listing.Links, result)
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if len(page) > 0 {
			if err := c.writePage(ctx, page, result); err != nil {
				return result, err
			}
		}

		if listing.NextToken == "" {
			slog.Info("listing exhausted", slog.Int("pages", result.ListingPages))
			return result, nil
		}
		if c.cfg.MaxPages > 0 && result.ListingPages >= c.cfg.MaxPages {
			slog.Info("page limit reached", slog.Int("pages", result.ListingPages))
			return result, nil
		}

		pageURL, err = parser.NextPageURL(c.cfg.ListingURL, listing.NextToken)
		if err != nil {
			return result, fmt.Errorf("build next page url: %w", err)
		}
	}
}

// collectPage fetches and extracts each detail link in order. Records that
// cannot be fetched or extracted are skipped without affecting the rest and
// stay eligible if the link shows up again.
func (c *Crawler) collectPage(ctx context.Context, links []string, result *models.CrawlResult) []*models.Notebook {
	page := make([]*models.Notebook, 0, len(links))

	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		if c.visited != nil && c.visited.Contains(link) {
			result.SkippedVisited++
			slog.Debug("detail already visited", slog.String("url", link))
			continue
		}

		doc, err := c.fetcher.Fetch(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			category := errorTypeLabel(err)
			result.ErrorsByType[category]++
			result.FailedURLs = append(result.FailedURLs, link)
			slog.Error("detail fetch failed",
				slog.String("url", link),
				slog.String("category", category),
				slog.Any("error", err),
			)
			continue
		}
		result.DetailPages++
		c.Metrics.IncPage("detail")

		notebook, err := parser.ExtractDetail(link, doc)
		if err != nil {
			result.Malformed++
			c.Metrics.IncMalformed()
			slog.Warn("skipping malformed record",
				slog.String("url", link),
				slog.Any("error", err),
			)
			continue
		}
		if c.visited != nil {
			c.visited.Add(link, struct{}{})
		}
		result.Extracted++
		c.Metrics.IncItems()
		page = append(page, notebook)
	}
	return page
}

// writePage hands one page to the pipeline. A failed batch is logged and
// counted; only a closed pipeline or cancellation stops the crawl.
func (c *Crawler) writePage(ctx context.Context, page []*models.Notebook, result *models.CrawlResult) error {
	written, err := c.pipeline.Process(ctx, page)
	if err == nil || errors.Is(err, pipeline.ErrExportFailed) {
		result.Written += written
		c.Metrics.IncBatch("written")
		if err != nil {
			result.FailedExports++
			c.Metrics.IncExportFailure()
			slog.Warn("page stored but export failed",
				slog.Int("page", result.ListingPages),
				slog.Int("records", written),
				slog.Any("error", err),
			)
		}
		return nil
	}

	if errors.Is(err, pipeline.ErrPipelineClosed) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	result.FailedBatches++
	c.Metrics.IncBatch("failed")
	slog.Error("page batch not persisted",
		slog.Int("page", result.ListingPages),
		slog.Int("records", len(page)),
		slog.Any("error", err),
	)
	return nil
}
