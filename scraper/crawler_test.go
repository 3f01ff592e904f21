package scraper

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-notebooks/config"
	"github.com/aluiziolira/go-scrape-notebooks/models"
	"github.com/aluiziolira/go-scrape-notebooks/pipeline"
)

type collectingWriter struct {
	mu      sync.Mutex
	batches [][]*models.Notebook
	failOn  map[int]bool
	calls   int
}

func (cw *collectingWriter) Write(_ context.Context, notebooks []*models.Notebook) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.calls++
	if cw.failOn[cw.calls] {
		return errors.New("insert failed")
	}
	batch := make([]*models.Notebook, len(notebooks))
	copy(batch, notebooks)
	cw.batches = append(cw.batches, batch)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) All() []*models.Notebook {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	var out []*models.Notebook
	for _, batch := range cw.batches {
		out = append(out, batch...)
	}
	return out
}

type card struct {
	href  string
	price string
}

func listingPage(nextToken string, cards ...card) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for _, c := range cards {
		fmt.Fprintf(&b, `<section><a href="%s"><h3>Notebook</h3><p class="styles_price__G3lbO">%s</p></a></section>`, c.href, c.price)
	}
	b.WriteString("</main>")

	token := "null"
	if nextToken != "" {
		token = fmt.Sprintf("%q", nextToken)
	}
	fmt.Fprintf(&b, `<script id="__NEXT_DATA__" type="application/json">{"props":{"initialState":{"listing":{"pagination":[{"label":"prev","token":null,"num":1},{"label":"next","token":%s,"num":2}]}}}}</script>`, token)
	b.WriteString("</body></html>")
	return b.String()
}

func detailPage(title, price, processor string, images ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, `<h1 class="styles_brief_wrapper__title__Ksuxa">%s</h1>`, title)
	fmt.Fprintf(&b, `<span class="styles_main__eFbJH">%s</span>`, price)
	b.WriteString(`<div itemprop="description">  Хорошее состояние  </div>`)
	b.WriteString(`<div class="styles_parameter_wrapper__L7UfK"><div class="styles_parameter_label__i_OkS">Производитель</div><div class="styles_parameter_value__BkYDy">Lenovo</div></div>`)
	if processor != "" {
		fmt.Fprintf(&b, `<div class="styles_parameter_wrapper__L7UfK"><div class="styles_parameter_label__i_OkS">Процессор</div><div class="styles_parameter_value__BkYDy">%s</div></div>`, processor)
	}
	for _, img := range images {
		fmt.Fprintf(&b, `<img class="styles_slide__image__AV4nX styles_slide__image__vertical__okVaq" src="%s">`, img)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func cursorURL(token string) string {
	if token == "" {
		return testListingURL
	}
	return testListingURL + "?cursor=" + token
}

func itemURL(id int) string {
	return fmt.Sprintf("http://example.test/item/%d", id)
}

func addItem(site *fakeSite, id int) {
	site.add(itemURL(id), detailPage(
		fmt.Sprintf("Notebook %d", id),
		fmt.Sprintf("%d р.", 1000+id),
		"Intel Core i5",
		fmt.Sprintf("/img/%d-1.jpg", id),
		fmt.Sprintf("/img/%d-2.jpg", id),
	))
}

func newTestCrawler(t *testing.T, cfg *config.Config, site *fakeSite, writer pipeline.OutputWriter) *Crawler {
	t.Helper()
	metrics := NewMetrics()
	f, err := NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(site.transport())

	c, err := NewCrawler(cfg, f, pipeline.NewPipeline(writer), metrics)
	if err != nil {
		t.Fatalf("new crawler: %v", err)
	}
	return c
}

func runCrawler(t *testing.T, c *Crawler) *models.CrawlResult {
	t.Helper()
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result
}

// threePageSite serves three listing pages of two priced cards each plus
// one unpriced card per page.
func threePageSite() *fakeSite {
	site := newFakeSite()
	site.add(cursorURL(""), listingPage("p2",
		card{href: "/item/1?rank=1", price: "1 001 р."},
		card{href: "/item/900", price: "Договорная"},
		card{href: "/item/2?rank=2", price: "1 002 р."},
	))
	site.add(cursorURL("p2"), listingPage("p3",
		card{href: "/item/3", price: "1 003 р."},
		card{href: "/item/901", price: "Бесплатно"},
		card{href: "/item/4", price: "1 004 р."},
	))
	site.add(cursorURL("p3"), listingPage("",
		card{href: "/item/5", price: "1 005 р."},
		card{href: "/item/902", price: ""},
		card{href: "/item/6", price: "1 006 р."},
	))
	for id := 1; id <= 6; id++ {
		addItem(site, id)
	}
	return site
}

func containsURL(notebooks []*models.Notebook, url string) bool {
	for _, n := range notebooks {
		if n.URL == url {
			return true
		}
	}
	return false
}

func TestCrawlerWalksPaginationUntilLastPage(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.ListingPages != 3 {
		t.Fatalf("listing pages = %d, want 3", result.ListingPages)
	}
	for _, token := range []string{"", "p2", "p3"} {
		if got := site.hitCount(cursorURL(token)); got != 1 {
			t.Fatalf("listing %q fetched %d times, want 1", token, got)
		}
	}
	if result.DetailPages != 6 || result.Written != 6 {
		t.Fatalf("detail pages = %d written = %d, want 6 and 6", result.DetailPages, result.Written)
	}
	if result.Malformed != 0 || len(result.FailedURLs) != 0 {
		t.Fatalf("malformed = %d failed = %v, want none", result.Malformed, result.FailedURLs)
	}

	for _, unpriced := range []int{900, 901, 902} {
		if got := site.hitCount(itemURL(unpriced)); got != 0 {
			t.Fatalf("unpriced item %d fetched %d times", unpriced, got)
		}
	}

	all := writer.All()
	if len(all) != 6 {
		t.Fatalf("stored %d notebooks, want 6", len(all))
	}
	for i, n := range all {
		id := i + 1
		if n.URL != itemURL(id) {
			t.Fatalf("notebook %d url = %q, want %q", i, n.URL, itemURL(id))
		}
		if n.Price != float64(1000+id) {
			t.Fatalf("notebook %d price = %v, want %d", i, n.Price, 1000+id)
		}
		if n.Manufacturer != "Lenovo" || n.Description != "Хорошее состояние" {
			t.Fatalf("notebook %d = %+v", i, n)
		}
		wantImages := []string{
			fmt.Sprintf("http://example.test/img/%d-1.jpg", id),
			fmt.Sprintf("http://example.test/img/%d-2.jpg", id),
		}
		if !reflect.DeepEqual(n.Images, wantImages) {
			t.Fatalf("notebook %d images = %v, want %v", i, n.Images, wantImages)
		}
	}

	writer.mu.Lock()
	batches := len(writer.batches)
	writer.mu.Unlock()
	if batches != 3 {
		t.Fatalf("batches = %d, want 3", batches)
	}
}

func TestCrawlerSkipsMalformedRecord(t *testing.T) {
	tests := []struct {
		name  string
		price string
	}{
		{name: "negotiable", price: "Договорная"},
		{name: "overflows price column", price: "123 456 789 012 р."},
		{name: "not a number", price: "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			site := threePageSite()
			site.add(itemURL(2), detailPage("Broken", tt.price, "AMD Ryzen 5"))
			writer := &collectingWriter{}
			c := newTestCrawler(t, cfg, site, writer)

			result := runCrawler(t, c)

			if result.Malformed != 1 || result.Extracted != 5 || result.Written != 5 {
				t.Fatalf("malformed = %d extracted = %d written = %d, want 1, 5, 5",
					result.Malformed, result.Extracted, result.Written)
			}
			if result.FailedBatches != 0 {
				t.Fatalf("failed batches = %d, want 0", result.FailedBatches)
			}
			all := writer.All()
			if containsURL(all, itemURL(2)) {
				t.Fatalf("malformed record was written")
			}
			if !containsURL(all, itemURL(1)) {
				t.Fatalf("record sharing the page with the malformed one was dropped")
			}
		})
	}
}

func TestCrawlerMissingAttributeLeavesFieldEmpty(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	site.add(itemURL(3), detailPage("No CPU", "1 003 р.", ""))
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	runCrawler(t, c)

	var found *models.Notebook
	for _, n := range writer.All() {
		if n.URL == itemURL(3) {
			found = n
		}
	}
	if found == nil {
		t.Fatalf("item 3 not written")
	}
	if found.Processor != "" {
		t.Fatalf("processor = %q, want empty", found.Processor)
	}
	if found.Manufacturer != "Lenovo" {
		t.Fatalf("manufacturer = %q, want Lenovo", found.Manufacturer)
	}
}

func TestCrawlerContinuesAfterFailedBatch(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	writer := &collectingWriter{failOn: map[int]bool{1: true}}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.FailedBatches != 1 {
		t.Fatalf("failed batches = %d, want 1", result.FailedBatches)
	}
	if result.ListingPages != 3 {
		t.Fatalf("listing pages = %d, want 3", result.ListingPages)
	}
	if result.Written != 4 {
		t.Fatalf("written = %d, want 4", result.Written)
	}
	if got := len(writer.All()); got != 4 {
		t.Fatalf("stored = %d, want 4", got)
	}
}

func TestCrawlerExportFailureKeepsStoredPage(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	store := &collectingWriter{}
	export := &collectingWriter{failOn: map[int]bool{2: true}}
	c := newTestCrawler(t, cfg, site, pipeline.NewMultiWriter(store, export))

	result := runCrawler(t, c)

	if result.FailedBatches != 0 {
		t.Fatalf("failed batches = %d, want 0", result.FailedBatches)
	}
	if result.FailedExports != 1 {
		t.Fatalf("failed exports = %d, want 1", result.FailedExports)
	}
	if result.Written != 6 {
		t.Fatalf("written = %d, want 6", result.Written)
	}
	if got := len(store.All()); got != 6 {
		t.Fatalf("stored = %d, want 6", got)
	}
	if got := len(export.All()); got != 4 {
		t.Fatalf("exported = %d, want 4", got)
	}
}

func TestCrawlerRetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	site.failFirst(cursorURL("p2"), 2)
	site.resetFirst(itemURL(5), 1)
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.RetryCount != 3 {
		t.Fatalf("retries = %d, want 3", result.RetryCount)
	}
	if result.Written != 6 {
		t.Fatalf("written = %d, want 6", result.Written)
	}
	if got := site.hitCount(cursorURL("p2")); got != 3 {
		t.Fatalf("listing p2 fetched %d times, want 3", got)
	}
	if got := site.hitCount(itemURL(5)); got != 2 {
		t.Fatalf("item 5 fetched %d times, want 2", got)
	}
}

func TestCrawlerSkipsLinksVisitedEarlierInRun(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	site.add(cursorURL("p2"), listingPage("p3",
		card{href: "/item/3", price: "1 003 р."},
		card{href: "/item/1", price: "1 001 р."},
	))
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.SkippedVisited != 1 {
		t.Fatalf("skipped = %d, want 1", result.SkippedVisited)
	}
	if got := site.hitCount(itemURL(1)); got != 1 {
		t.Fatalf("item 1 fetched %d times, want 1", got)
	}
	if result.Written != 5 {
		t.Fatalf("written = %d, want 5", result.Written)
	}
}

func TestCrawlerRevisitsLinksThatFailedEarlier(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 2
	site := threePageSite()
	site.failFirst(itemURL(1), 2)
	site.add(itemURL(2), detailPage("Broken", "Договорная", ""))
	site.add(cursorURL("p2"), listingPage("p3",
		card{href: "/item/3", price: "1 003 р."},
		card{href: "/item/1", price: "1 001 р."},
		card{href: "/item/2", price: "1 002 р."},
	))
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.SkippedVisited != 0 {
		t.Fatalf("skipped = %d, want 0", result.SkippedVisited)
	}
	if got := site.hitCount(itemURL(1)); got != 3 {
		t.Fatalf("item 1 fetched %d times, want 3", got)
	}
	if got := site.hitCount(itemURL(2)); got != 2 {
		t.Fatalf("item 2 fetched %d times, want 2", got)
	}
	if !reflect.DeepEqual(result.FailedURLs, []string{itemURL(1)}) {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
	if result.Malformed != 2 {
		t.Fatalf("malformed = %d, want 2", result.Malformed)
	}
	if !containsURL(writer.All(), itemURL(1)) {
		t.Fatalf("item 1 not written after its second appearance")
	}
	if result.Written != 4 {
		t.Fatalf("written = %d, want 4", result.Written)
	}
}

func TestCrawlerDedupeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DedupeMaxSize = 0
	site := threePageSite()
	site.add(cursorURL("p2"), listingPage("p3",
		card{href: "/item/1", price: "1 001 р."},
	))
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.SkippedVisited != 0 {
		t.Fatalf("skipped = %d, want 0", result.SkippedVisited)
	}
	if got := site.hitCount(itemURL(1)); got != 2 {
		t.Fatalf("item 1 fetched %d times, want 2", got)
	}
}

func TestCrawlerHonoursMaxPages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	site := threePageSite()
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.ListingPages != 2 {
		t.Fatalf("listing pages = %d, want 2", result.ListingPages)
	}
	if got := site.hitCount(cursorURL("p3")); got != 0 {
		t.Fatalf("listing p3 fetched %d times, want 0", got)
	}
	if result.Written != 4 {
		t.Fatalf("written = %d, want 4", result.Written)
	}
}

func TestCrawlerListingFailureEndsRun(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 2
	site := threePageSite()
	site.failFirst(cursorURL("p2"), 10)
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected listing failure")
	}

	if result.ListingPages != 1 || result.Written != 2 {
		t.Fatalf("listing pages = %d written = %d, want 1 and 2", result.ListingPages, result.Written)
	}
	if !reflect.DeepEqual(result.FailedURLs, []string{cursorURL("p2")}) {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
	if got := result.ErrorsByType["status"]; got != 1 {
		t.Fatalf("status errors = %d, want 1", got)
	}
}

func TestCrawlerDetailFailureWithBoundedPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 2
	site := threePageSite()
	site.failFirst(itemURL(4), 10)
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if !reflect.DeepEqual(result.FailedURLs, []string{itemURL(4)}) {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
	if result.Written != 5 {
		t.Fatalf("written = %d, want 5", result.Written)
	}
}

func TestCrawlerStopsWhenCancelled(t *testing.T) {
	cfg := testConfig()
	site := threePageSite()
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if result.ListingPages != 0 {
		t.Fatalf("listing pages = %d, want 0", result.ListingPages)
	}
	if got := len(writer.All()); got != 0 {
		t.Fatalf("stored = %d, want 0", got)
	}
}

func TestCrawlerLastPageWithoutPaginationScript(t *testing.T) {
	cfg := testConfig()
	site := newFakeSite()
	site.add(cursorURL(""), `<html><body><section><a href="/item/1"><p class="styles_price__G3lbO">1 001 р.</p></a></section></body></html>`)
	addItem(site, 1)
	writer := &collectingWriter{}
	c := newTestCrawler(t, cfg, site, writer)

	result := runCrawler(t, c)

	if result.ListingPages != 1 || result.Written != 1 {
		t.Fatalf("listing pages = %d written = %d, want 1 and 1", result.ListingPages, result.Written)
	}
}
