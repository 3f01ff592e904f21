package storage

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/aluiziolira/go-scrape-notebooks/models"
)

// upsertNotebookQuery stores one notebook and its images in a single round
// trip. A known URL only has its price refreshed; image URLs already present
// anywhere are left untouched.
const upsertNotebookQuery = `
	WITH notebook_row AS (
		INSERT INTO notebook (
			url, title, price, description, manufacturer, diagonal,
			screen_resolution, os, processor, op_mem, type_video_card,
			video_card, type_drive, capacity_drive, auto_work_time, state
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (url) DO UPDATE SET price = EXCLUDED.price
		RETURNING id
	)
	INSERT INTO image (image_url, notebook_id)
	SELECT unnest(COALESCE($17::text[], ARRAY[]::text[])), id FROM notebook_row
	ON CONFLICT (image_url) DO NOTHING`

const selectNotebookColumns = `
	SELECT id, url, title, price, description, manufacturer, diagonal,
		screen_resolution, os, processor, op_mem, type_video_card,
		video_card, type_drive, capacity_drive, auto_work_time, state
	FROM notebook`

// NotebookStore persists notebooks through a Gateway. It satisfies
// pipeline.OutputWriter so a crawled page can be written as one batch.
type NotebookStore struct {
	gw Gateway
}

func NewNotebookStore(gw Gateway) *NotebookStore {
	return &NotebookStore{gw: gw}
}

// UpsertBatch writes notebooks atomically: either every record of the
// batch is stored or none is.
func (s *NotebookStore) UpsertBatch(ctx context.Context, notebooks []*models.Notebook) error {
	if len(notebooks) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(notebooks))
	for _, n := range notebooks {
		rows = append(rows, notebookArgs(n))
	}

	if _, err := s.gw.ExecuteBatch(ctx, upsertNotebookQuery, rows); err != nil {
		return fmt.Errorf("upsert %d notebooks: %w", len(notebooks), err)
	}
	return nil
}

// notebookArgs flattens n into the positional parameters of
// upsertNotebookQuery.
func notebookArgs(n *models.Notebook) []any {
	return []any{
		n.URL,
		n.Title,
		n.Price,
		n.Description,
		n.Manufacturer,
		n.Diagonal,
		n.ScreenResolution,
		n.OS,
		n.Processor,
		n.OpMem,
		n.TypeVideoCard,
		n.VideoCard,
		n.TypeDrive,
		n.CapacityDrive,
		n.AutoWorkTime,
		n.State,
		pq.Array(n.Images),
	}
}

// GetByURL loads a stored notebook with its images.
func (s *NotebookStore) GetByURL(ctx context.Context, url string) (*models.Notebook, error) {
	var n models.Notebook
	if err := s.gw.FetchOne(ctx, &n, selectNotebookColumns+` WHERE url = $1`, url); err != nil {
		return nil, err
	}

	images, err := s.ImagesFor(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	n.Images = images
	return &n, nil
}

// ImagesFor lists the image URLs owned by a notebook in insertion order.
func (s *NotebookStore) ImagesFor(ctx context.Context, notebookID int64) ([]string, error) {
	var images []string
	err := s.gw.FetchAll(ctx, &images,
		`SELECT image_url FROM image WHERE notebook_id = $1 ORDER BY id`, notebookID)
	if err != nil {
		return nil, err
	}
	return images, nil
}

func (s *NotebookStore) Count(ctx context.Context) (int64, error) {
	row, err := s.gw.FetchRowAsTuple(ctx, `SELECT COUNT(*) FROM notebook`)
	if err != nil {
		return 0, err
	}
	count, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", row[0])
	}
	return count, nil
}

// Stats reports table sizes keyed by table name.
func (s *NotebookStore) Stats(ctx context.Context) (map[string]int64, error) {
	row, err := s.gw.FetchRowAsMap(ctx,
		`SELECT (SELECT COUNT(*) FROM notebook) AS notebook, (SELECT COUNT(*) FROM image) AS image`)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(row))
	for table, value := range row {
		count, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected %s count type %T", table, value)
		}
		stats[table] = count
	}
	return stats, nil
}

// Write stores one crawled page.
func (s *NotebookStore) Write(ctx context.Context, notebooks []*models.Notebook) error {
	return s.UpsertBatch(ctx, notebooks)
}

// Close is a no-op; the caller owns the connection pool.
func (s *NotebookStore) Close() error {
	return nil
}

// Validate checks that the notebook table is reachable.
func (s *NotebookStore) Validate() error {
	if _, err := s.Count(context.Background()); err != nil {
		return fmt.Errorf("validate notebook table: %w", err)
	}
	return nil
}
