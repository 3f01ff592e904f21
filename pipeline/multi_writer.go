package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-notebooks/models"
)

// MultiWriter hands every batch to each of its writers in order. The first
// writer is the primary sink: when it fails the remaining writers are
// skipped so exports never contain records the primary rejected. Failures of
// the other writers are reported as ErrExportFailed once the primary has
// accepted the batch.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter fans batches out to writers. Nil writers are ignored.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write passes notebooks to the primary writer, then to every export.
func (mw *MultiWriter) Write(ctx context.Context, notebooks []*models.Notebook) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if len(mw.writers) == 0 {
		return nil
	}
	if err := mw.writers[0].Write(ctx, notebooks); err != nil {
		return fmt.Errorf("writer 0: %w", err)
	}

	var errs []error
	for i, w := range mw.writers[1:] {
		if err := w.Write(ctx, notebooks); err != nil {
			errs = append(errs, fmt.Errorf("writer %d: %w", i+1, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrExportFailed, errors.Join(errs...))
	}
	return nil
}

// Close closes all writers and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validate writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
