package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go/v4"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-notebooks/config"
)

const (
	ctxKeyStart  = "start"
	ctxKeyStatus = "status"
	ctxKeyBody   = "body"
)

// RetryPolicy controls how a failed fetch is repeated. MaxAttempts of zero
// keeps retrying until the request succeeds or the context is cancelled.
type RetryPolicy struct {
	MaxAttempts uint
	Delay       time.Duration
	MaxDelay    time.Duration
	Backoff     string
}

// PolicyFromConfig maps the retry section of cfg onto a RetryPolicy.
func PolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		Delay:       rc.Delay,
		MaxDelay:    rc.MaxDelay,
		Backoff:     rc.Backoff,
	}
}

func (p RetryPolicy) options() []retry.Option {
	opts := []retry.Option{
		retry.Attempts(p.MaxAttempts),
		retry.Delay(p.Delay),
		retry.LastErrorOnly(true),
	}
	switch p.Backoff {
	case "exponential":
		opts = append(opts, retry.DelayType(retry.BackOffDelay))
		if p.MaxDelay > 0 {
			opts = append(opts, retry.MaxDelay(p.MaxDelay))
		}
	default:
		opts = append(opts, retry.DelayType(retry.FixedDelay))
	}
	return opts
}

// Fetcher issues GET requests through a synchronous colly collector and
// retries failed attempts according to its policy.
type Fetcher struct {
	collector *colly.Collector
	headers   http.Header
	policy    RetryPolicy
	metrics   *Metrics

	retries int
}

// NewFetcher builds a fetcher restricted to the host of cfg.ListingURL.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("listing url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	headers := http.Header{}
	headers.Set("User-Agent", cfg.UserAgent)
	if cfg.Accept != "" {
		headers.Set("Accept", cfg.Accept)
	}

	f := &Fetcher{
		collector: collector,
		headers:   headers,
		policy:    PolicyFromConfig(cfg.Retry),
		metrics:   metrics,
	}
	f.configureHandlers()
	return f, nil
}

// WithTransport swaps the HTTP transport used by the collector.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// SetPolicy replaces the retry policy.
func (f *Fetcher) SetPolicy(p RetryPolicy) {
	f.policy = p
}

// Retries returns the number of retries performed so far.
func (f *Fetcher) Retries() int {
	return f.retries
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxKeyStart, time.Now())
		f.metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
		if start, ok := r.Ctx.GetAny(ctxKeyStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
	})
}

// Fetch downloads target and parses it into a document whose Url is set to
// target. Failed attempts are retried per the policy; with an unbounded
// policy Fetch only returns an error for cancellation or a request the
// collector refuses outright.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*goquery.Document, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", target, err)
	}

	opts := append(f.policy.options(),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			// retry-go also reports the final failed attempt of a bounded policy.
			if f.policy.MaxAttempts > 0 && n+1 >= f.policy.MaxAttempts {
				return
			}
			f.retries++
			f.metrics.IncRetries()
			slog.Warn("fetch failed, retrying",
				slog.String("url", target),
				slog.Uint64("attempt", uint64(n+1)),
				slog.Any("error", err),
			)
		}),
	)

	doc, err := retry.DoWithData(func() (*goquery.Document, error) {
		return f.attempt(parsed)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return doc, nil
}

func (f *Fetcher) attempt(target *url.URL) (*goquery.Document, error) {
	cctx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, target.String(), nil, cctx, f.headers.Clone())

	status, _ := cctx.GetAny(ctxKeyStatus).(int)
	if status != 0 && status != http.StatusOK {
		err = ErrUnexpectedStatus{StatusCode: status}
	}
	if err != nil {
		classified := classifyError(err, status)
		category := errorTypeLabel(classified)
		f.metrics.IncError(category)
		slog.Debug("fetch attempt failed",
			slog.String("url", target.String()),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", err),
		)
		if permanent(err) {
			return nil, retry.Unrecoverable(classified)
		}
		return nil, classified
	}

	body, _ := cctx.GetAny(ctxKeyBody).([]byte)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc.Url = target
	return doc, nil
}
