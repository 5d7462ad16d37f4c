package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bizbuysell-scraper/config"
	"bizbuysell-scraper/fetcher"
	"bizbuysell-scraper/models"
	"bizbuysell-scraper/parser"
	"bizbuysell-scraper/storage"
	"bizbuysell-scraper/utils"
)

// fakeFetcher serves canned markup per URL and fails configured URLs.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fails map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (string, *fetcher.Provenance, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if err, ok := f.fails[url]; ok {
		return "", nil, err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", nil, fmt.Errorf("no fixture for %s", url)
	}
	return html, &fetcher.Provenance{Source: "direct", StatusCode: 200, FetchedAt: time.Now()}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SearchURL:       "https://example.com/search",
		BaseURL:         "https://example.com",
		DetailBatchSize: 25,
		SearchTimeout:   5 * time.Second,
		DetailTimeout:   5 * time.Second,
		MaxConcurrency:  2,
		RateLimitMs:     0,
		MaxRetries:      1,
		SearchHour:      8,
		SearchMinute:    0,
		DetailsHour:     8,
		DetailsMinute:   30,
	}
}

func newTestScheduler(t *testing.T, fetch PageFetcher) (*Scheduler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := testConfig()
	sched := New(cfg, utils.NewLogger(), store, fetch, parser.New(cfg.BaseURL))
	return sched, store
}

func listingAnchor(id, title string) string {
	return fmt.Sprintf(`<a class="diamond" id="%s" href="/business-opportunity/%s/">
		<span class="title">%s</span>
		<p class="location">Austin, TX</p>
		<span class="asking-price">$350,000</span>
		<p class="description">Owner retiring.</p>
	</a>`, id, id, title)
}

func TestRunSearchPass(t *testing.T) {
	fake := &fakeFetcher{pages: map[string]string{
		"https://example.com/search": `<html><body>` +
			listingAnchor("101", "Restaurant One") +
			listingAnchor("102", "Restaurant Two") +
			`<a rel="next" href="/search?page=2">Next</a></body></html>`,
		"https://example.com/search?page=2": `<html><body>` +
			listingAnchor("103", "Restaurant Three") +
			`<a rel="next" href="/search">Back</a></body></html>`,
	}}
	sched, store := newTestScheduler(t, fake)

	if err := sched.RunSearchPass(context.Background()); err != nil {
		t.Fatalf("search pass: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunCompleted {
		t.Errorf("run status: %s", run.Status)
	}
	if run.ListingsFound != 3 || run.NewListings != 3 || run.UpdatedListings != 0 || run.Errors != 0 {
		t.Errorf("run counters: %+v", run.RunStats)
	}

	// The cycle guard stops pagination when page 2 links back to page 1.
	if len(fake.calls) != 2 {
		t.Errorf("expected 2 page fetches, got %d: %v", len(fake.calls), fake.calls)
	}

	// Every new listing is queued at new-listing priority.
	items, err := store.PendingDetailScrapes(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 queued items, got %d", len(items))
	}
	for _, item := range items {
		if item.Priority != PriorityNew {
			t.Errorf("item %d priority %d, want %d", item.ID, item.Priority, PriorityNew)
		}
	}
}

func TestRunSearchPassUnchangedListings(t *testing.T) {
	fake := &fakeFetcher{pages: map[string]string{
		"https://example.com/search": `<html><body>` +
			listingAnchor("101", "Restaurant One") +
			`<a rel="next" href="/search">Same</a></body></html>`,
	}}
	sched, store := newTestScheduler(t, fake)

	if err := sched.RunSearchPass(context.Background()); err != nil {
		t.Fatalf("first search pass: %v", err)
	}

	// Drain the queue so a second, identical pass starts clean.
	items, err := store.PendingDetailScrapes(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	for _, item := range items {
		if err := store.MarkQueueCompleted(item.ID); err != nil {
			t.Fatalf("mark completed: %v", err)
		}
	}

	if err := sched.RunSearchPass(context.Background()); err != nil {
		t.Fatalf("second search pass: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	run := runs[0]
	if run.NewListings != 0 || run.UpdatedListings != 0 {
		t.Errorf("identical re-crawl should change nothing: %+v", run.RunStats)
	}

	// Unchanged listings are not re-queued.
	pending, err := store.PendingDetailScrapes(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d items", len(pending))
	}
}

func TestRunSearchPassFetchFailure(t *testing.T) {
	fake := &fakeFetcher{
		pages: map[string]string{},
		fails: map[string]error{
			"https://example.com/search": errors.New("connection refused"),
		},
	}
	sched, store := newTestScheduler(t, fake)

	if err := sched.RunSearchPass(context.Background()); err == nil {
		t.Fatal("expected error when the entry page cannot be fetched")
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	run := runs[0]
	if run.Status != models.RunFailed {
		t.Errorf("run status: %s", run.Status)
	}
	if run.Errors != 1 {
		t.Errorf("run errors: %d", run.Errors)
	}
	if run.ErrorMessage == "" {
		t.Error("failed run should carry an error message")
	}
}

func TestRunDetailsPassIsolatesFailures(t *testing.T) {
	detailHTML := `<html><body><div id="listing-description">Great business.</div></body></html>`

	fake := &fakeFetcher{
		pages: map[string]string{},
		fails: map[string]error{},
	}
	sched, store := newTestScheduler(t, fake)

	listingIDs := make([]int64, 0, 5)
	for i := 1; i <= 5; i++ {
		summary := &models.ListingSummary{
			ExternalID: fmt.Sprintf("%d", i),
			Title:      fmt.Sprintf("Business %d", i),
			URL:        fmt.Sprintf("https://example.com/business-opportunity/%d/", i),
		}
		listing, _, _, err := store.UpsertListing(summary)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := store.EnqueueDetailScrape(listing.ID, PriorityNew); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		listingIDs = append(listingIDs, listing.ID)

		if i == 3 {
			fake.fails[summary.URL] = errors.New("blocked by site")
		} else {
			fake.pages[summary.URL] = detailHTML
		}
	}

	if err := sched.RunDetailsPass(context.Background()); err != nil {
		t.Fatalf("details pass: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	run := runs[0]
	if run.Status != models.RunCompleted {
		t.Errorf("one bad item must not fail the run: status %s", run.Status)
	}
	if run.DetailPagesScraped != 4 {
		t.Errorf("scraped: got %d, want 4", run.DetailPagesScraped)
	}
	if run.Errors != 1 {
		t.Errorf("errors: got %d, want 1", run.Errors)
	}

	for i, listingID := range listingIDs {
		item, err := store.QueueItemForListing(listingID)
		if err != nil {
			t.Fatalf("queue item for listing %d: %v", listingID, err)
		}
		if i == 2 {
			if item.Status != models.QueueFailed {
				t.Errorf("item 3 status: %s, want failed", item.Status)
			}
			if item.ErrorMessage == "" || item.RetryCount != 1 {
				t.Errorf("item 3 failure record: msg=%q retries=%d", item.ErrorMessage, item.RetryCount)
			}
			if _, err := store.GetListingDetail(listingID); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("failed item should have no detail row, got %v", err)
			}
			continue
		}
		if item.Status != models.QueueCompleted {
			t.Errorf("item %d status: %s, want completed", i+1, item.Status)
		}
		detail, err := store.GetListingDetail(listingID)
		if err != nil {
			t.Fatalf("detail for listing %d: %v", listingID, err)
		}
		if detail.FullDescription != "Great business." {
			t.Errorf("detail description: %q", detail.FullDescription)
		}
	}
}

func TestRunDetailsPassEmptyQueue(t *testing.T) {
	fake := &fakeFetcher{pages: map[string]string{}}
	sched, store := newTestScheduler(t, fake)

	if err := sched.RunDetailsPass(context.Background()); err != nil {
		t.Fatalf("details pass: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if runs[0].Status != models.RunCompleted || runs[0].DetailPagesScraped != 0 {
		t.Errorf("empty queue run: %+v", runs[0])
	}
	if len(fake.calls) != 0 {
		t.Errorf("nothing should be fetched, got %v", fake.calls)
	}
}

func TestNextPass(t *testing.T) {
	sched, _ := newTestScheduler(t, &fakeFetcher{})

	loc := time.UTC
	tests := []struct {
		now      time.Time
		wantKind string
		wantTime time.Time
	}{
		// Before both anchors: search comes first.
		{
			time.Date(2026, 8, 28, 6, 0, 0, 0, loc),
			models.RunTypeSearch,
			time.Date(2026, 8, 28, 8, 0, 0, 0, loc),
		},
		// Between the anchors: details is next.
		{
			time.Date(2026, 8, 28, 8, 15, 0, 0, loc),
			models.RunTypeDetails,
			time.Date(2026, 8, 28, 8, 30, 0, 0, loc),
		},
		// After both: tomorrow's search.
		{
			time.Date(2026, 8, 28, 9, 0, 0, 0, loc),
			models.RunTypeSearch,
			time.Date(2026, 8, 29, 8, 0, 0, 0, loc),
		},
		// Exactly on the search anchor: it has fired, details is next.
		{
			time.Date(2026, 8, 28, 8, 0, 0, 0, loc),
			models.RunTypeDetails,
			time.Date(2026, 8, 28, 8, 30, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		kind, next := sched.nextPass(tt.now)
		if kind != tt.wantKind || !next.Equal(tt.wantTime) {
			t.Errorf("nextPass(%v) = (%s, %v); want (%s, %v)",
				tt.now, kind, next, tt.wantKind, tt.wantTime)
		}
	}
}
