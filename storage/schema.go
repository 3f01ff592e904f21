package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS notebook (
		id SERIAL PRIMARY KEY,
		url VARCHAR(160) UNIQUE,
		title VARCHAR(500),
		price NUMERIC(10, 2),
		description TEXT,
		manufacturer VARCHAR(100),
		diagonal VARCHAR(100),
		screen_resolution VARCHAR(100),
		os VARCHAR(100),
		processor VARCHAR(100),
		op_mem VARCHAR(100),
		type_video_card VARCHAR(100),
		video_card VARCHAR(100),
		type_drive VARCHAR(100),
		capacity_drive VARCHAR(100),
		auto_work_time VARCHAR(100),
		state VARCHAR(100)
	)`,
	`CREATE TABLE IF NOT EXISTS image (
		id SERIAL PRIMARY KEY,
		image_url VARCHAR(160) UNIQUE,
		notebook_id INTEGER REFERENCES notebook(id) ON DELETE CASCADE
	)`,
}

// EnsureSchema creates the notebook and image tables when missing.
func (s *NotebookStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.gw.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
