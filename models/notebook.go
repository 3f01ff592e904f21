// Package models defines data structures for the scraper.
package models

import "time"

// Notebook represents one classifieds item extracted from its detail page.
// URL is the natural key; the technical attributes are optional.
type Notebook struct {
	ID               int64     `db:"id" csv:"-" json:"-"`
	URL              string    `db:"url" csv:"url" json:"url"`
	Title            string    `db:"title" csv:"title" json:"title"`
	Price            float64   `db:"price" csv:"price" json:"price"`
	Description      string    `db:"description" csv:"description" json:"description"`
	Manufacturer     string    `db:"manufacturer" csv:"manufacturer" json:"manufacturer"`
	Diagonal         string    `db:"diagonal" csv:"diagonal" json:"diagonal"`
	ScreenResolution string    `db:"screen_resolution" csv:"screen_resolution" json:"screen_resolution"`
	OS               string    `db:"os" csv:"os" json:"os"`
	Processor        string    `db:"processor" csv:"processor" json:"processor"`
	OpMem            string    `db:"op_mem" csv:"op_mem" json:"op_mem"`
	TypeVideoCard    string    `db:"type_video_card" csv:"type_video_card" json:"type_video_card"`
	VideoCard        string    `db:"video_card" csv:"video_card" json:"video_card"`
	TypeDrive        string    `db:"type_drive" csv:"type_drive" json:"type_drive"`
	CapacityDrive    string    `db:"capacity_drive" csv:"capacity_drive" json:"capacity_drive"`
	AutoWorkTime     string    `db:"auto_work_time" csv:"auto_work_time" json:"auto_work_time"`
	State            string    `db:"state" csv:"state" json:"state"`
	Images           []string  `db:"-" csv:"images" json:"images"`
	ScrapedAt        time.Time `db:"-" csv:"scraped_at" json:"scraped_at"`
}

// CrawlResult holds the overall result of a crawl run.
type CrawlResult struct {
	StartTime      time.Time
	EndTime        time.Time
	ListingPages   int
	DetailPages    int
	Extracted      int
	Malformed      int
	Written        int
	FailedBatches  int
	FailedExports  int
	SkippedVisited int
	FailedURLs     []string
	ErrorsByType   map[string]int
	RetryCount     int
}
