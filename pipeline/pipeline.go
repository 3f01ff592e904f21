package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-notebooks/models"
	"github.com/aluiziolira/go-scrape-notebooks/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrExportFailed means the batch reached the primary writer but a
	// secondary export rejected it.
	ErrExportFailed = errors.New("pipeline: export failed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(ctx context.Context, notebooks []*models.Notebook) error
	Close() error
	Validate() error
}

// Pipeline validates each crawled page and hands it to the writer as one
// batch.
type Pipeline struct {
	writer  OutputWriter
	metrics metrics

	mu     sync.Mutex // guards closed
	closed bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline writing to writer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:   writer,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Process filters page and writes the remaining notebooks in a single
// Write call. It returns how many records were handed to the writer. A
// failing write leaves the pipeline open so the next page can proceed.
// When only an export failed the batch counts as written and the error
// wraps ErrExportFailed.
func (p *Pipeline) Process(ctx context.Context, page []*models.Notebook) (int, error) {
	if p.isClosed() {
		return 0, ErrPipelineClosed
	}

	batch := p.prepare(page)
	if len(batch) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := p.writer.Write(ctx, batch); err != nil {
		if errors.Is(err, ErrExportFailed) {
			p.metrics.addBatch(true, len(batch))
			p.metrics.addExportFailure()
			return len(batch), fmt.Errorf("write batch: %w", err)
		}
		p.metrics.addBatch(false, 0)
		return 0, fmt.Errorf("write batch: %w", err)
	}
	p.metrics.addBatch(true, len(batch))
	return len(batch), nil
}

// Close stops metrics reporting and prevents more submissions. The writer
// is owned by the caller.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	return nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed", metrics["processed_notebooks"].(int64)),
					slog.Int64("written", metrics["written_notebooks"].(int64)),
					slog.Int64("failed_batches", metrics["failed_batches"].(int64)),
					slog.Any("validation_errors", metrics["validation_errors"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) prepare(page []*models.Notebook) []*models.Notebook {
	seen := make(map[string]struct{}, len(page))
	batch := make([]*models.Notebook, 0, len(page))

	for _, notebook := range page {
		if err := parser.ValidateNotebook(notebook); err != nil {
			p.metrics.addValidation("invalid_record")
			continue
		}
		if _, ok := seen[notebook.URL]; ok {
			p.metrics.addValidation("duplicate_url")
			continue
		}
		seen[notebook.URL] = struct{}{}

		if notebook.ScrapedAt.IsZero() {
			notebook.ScrapedAt = time.Now()
		}
		p.metrics.incrementProcessed()
		batch = append(batch, notebook)
	}
	return batch
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu            sync.Mutex
	processed     int64
	written       int64
	failedBatches int64
	failedExports int64
	validation    map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) addBatch(ok bool, written int) {
	m.mu.Lock()
	if ok {
		m.written += int64(written)
	} else {
		m.failedBatches++
	}
	m.mu.Unlock()
}

func (m *metrics) addExportFailure() {
	m.mu.Lock()
	m.failedExports++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_notebooks": m.processed,
		"written_notebooks":   m.written,
		"failed_batches":      m.failedBatches,
		"failed_exports":      m.failedExports,
		"validation_errors":   copyValidation,
	}
}
