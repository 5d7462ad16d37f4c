package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bizbuysell-scraper/config"
	"bizbuysell-scraper/fetcher"
	"bizbuysell-scraper/models"
	"bizbuysell-scraper/parser"
	"bizbuysell-scraper/storage"
	"bizbuysell-scraper/utils"
)

// Queue priorities: freshly discovered listings are fetched before changed
// re-observations.
const (
	PriorityNew     = 10
	PriorityUpdated = 5
)

// PageFetcher retrieves raw markup for a URL. Satisfied by *fetcher.Fetcher;
// tests substitute a fake.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, *fetcher.Provenance, error)
}

// Scheduler drives the daily search and details passes.
type Scheduler struct {
	cfg    *config.Config
	logger *utils.Logger
	store  *storage.Store
	fetch  PageFetcher
	parser *parser.Parser
	retry  *utils.RetryConfig
	pool   *utils.WorkerPool
}

// New creates a Scheduler wired to the given collaborators.
func New(cfg *config.Config, logger *utils.Logger, store *storage.Store, fetch PageFetcher, p *parser.Parser) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		store:  store,
		fetch:  fetch,
		parser: p,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		pool: utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs),
	}
}

// Start runs the daily schedule until ctx is cancelled: a search pass at the
// configured search time, a details pass at the details time.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("[scheduler] Daily schedule — search %02d:%02d, details %02d:%02d",
		s.cfg.SearchHour, s.cfg.SearchMinute, s.cfg.DetailsHour, s.cfg.DetailsMinute)

	for {
		kind, next := s.nextPass(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("[scheduler] Shutting down")
			return
		case <-timer.C:
		}

		switch kind {
		case models.RunTypeSearch:
			if err := s.RunSearchPass(ctx); err != nil {
				s.logger.Error("[scheduler] Search pass failed: %v", err)
			}
		case models.RunTypeDetails:
			if err := s.RunDetailsPass(ctx); err != nil {
				s.logger.Error("[scheduler] Details pass failed: %v", err)
			}
		}
	}
}

// nextPass returns the kind and wall-clock time of the next scheduled pass
// strictly after now.
func (s *Scheduler) nextPass(now time.Time) (string, time.Time) {
	anchor := func(hour, minute int) time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}

	search := anchor(s.cfg.SearchHour, s.cfg.SearchMinute)
	details := anchor(s.cfg.DetailsHour, s.cfg.DetailsMinute)
	if search.Before(details) {
		return models.RunTypeSearch, search
	}
	return models.RunTypeDetails, details
}

// RunSearchPass walks pagination from the entry URL, upserting every summary
// and enqueueing detail jobs for new and changed listings. A single broken
// listing is counted and skipped; a broken page aborts the run.
func (s *Scheduler) RunSearchPass(ctx context.Context) error {
	runID, err := s.store.StartRun(models.RunTypeSearch)
	if err != nil {
		return fmt.Errorf("search pass: %w", err)
	}
	s.logger.Info("[search] Run %d started — entry %s", runID, s.cfg.SearchURL)

	var stats models.RunStats
	visited := utils.NewURLSet()
	nextURL := s.cfg.SearchURL

	for nextURL != "" {
		if !visited.Add(nextURL) {
			s.logger.Warn("[search] Pagination cycle at %s — stopping", nextURL)
			break
		}

		var html string
		err := s.retry.Do(ctx, "search-page", func() error {
			var fetchErr error
			html, _, fetchErr = s.fetch.Fetch(ctx, nextURL, s.cfg.SearchTimeout)
			return fetchErr
		})
		if err != nil {
			s.finishFailed(runID, stats, err)
			return fmt.Errorf("search pass: fetch %s: %w", nextURL, err)
		}

		summaries, err := s.parser.ParseSearchResults(html)
		if err != nil {
			s.finishFailed(runID, stats, err)
			return fmt.Errorf("search pass: parse %s: %w", nextURL, err)
		}
		stats.ListingsFound += len(summaries)

		for _, summary := range summaries {
			listing, isNew, isUpdated, err := s.store.UpsertListing(summary)
			if err != nil {
				s.logger.Warn("[search] Upsert failed for %s: %v", summary.ExternalID, err)
				stats.Errors++
				continue
			}

			switch {
			case isNew:
				stats.NewListings++
				if err := s.store.EnqueueDetailScrape(listing.ID, PriorityNew); err != nil {
					s.logger.Warn("[search] Enqueue failed for %s: %v", summary.ExternalID, err)
					stats.Errors++
				}
			case isUpdated:
				stats.UpdatedListings++
				if err := s.store.EnqueueDetailScrape(listing.ID, PriorityUpdated); err != nil {
					s.logger.Warn("[search] Enqueue failed for %s: %v", summary.ExternalID, err)
					stats.Errors++
				}
			}
		}

		s.logger.Info("[search] Page done — %d listings so far (%d new, %d updated)",
			stats.ListingsFound, stats.NewListings, stats.UpdatedListings)

		nextURL = s.parser.FindNextPageURL(html, nextURL)
	}

	if err := s.store.FinishRun(runID, stats, models.RunCompleted, ""); err != nil {
		return fmt.Errorf("search pass: %w", err)
	}
	s.logger.Info("[search] Run %d completed — found %d, new %d, updated %d, errors %d",
		runID, stats.ListingsFound, stats.NewListings, stats.UpdatedListings, stats.Errors)
	return nil
}

// RunDetailsPass dequeues a batch of pending jobs and fetches each listing's
// detail page. Item failures are isolated: the item is marked failed, the
// run's error counter bumped, and the batch continues.
func (s *Scheduler) RunDetailsPass(ctx context.Context) error {
	runID, err := s.store.StartRun(models.RunTypeDetails)
	if err != nil {
		return fmt.Errorf("details pass: %w", err)
	}

	items, err := s.store.PendingDetailScrapes(s.cfg.DetailBatchSize)
	if err != nil {
		s.finishFailed(runID, models.RunStats{}, err)
		return fmt.Errorf("details pass: %w", err)
	}
	s.logger.Info("[details] Run %d started — %d pending items", runID, len(items))

	var mu sync.Mutex
	var stats models.RunStats

	for _, item := range items {
		item := item
		s.pool.Submit(func() {
			scraped, err := s.processQueueItem(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Errors++
			} else if scraped {
				stats.DetailPagesScraped++
			}
		})
	}
	s.pool.Wait()

	if err := s.store.FinishRun(runID, stats, models.RunCompleted, ""); err != nil {
		return fmt.Errorf("details pass: %w", err)
	}
	s.logger.Info("[details] Run %d completed — scraped %d, errors %d",
		runID, stats.DetailPagesScraped, stats.Errors)
	return nil
}

// processQueueItem handles one job end to end. Returns (true, nil) when a
// detail page was scraped, (false, nil) when the claim was lost, and
// (false, err) when the item failed.
func (s *Scheduler) processQueueItem(ctx context.Context, item *models.QueueItem) (bool, error) {
	claimed, err := s.store.ClaimQueueItem(item.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Debug("[details] Item %d already claimed — skipping", item.ID)
		return false, nil
	}

	listing, err := s.store.GetListingByID(item.ListingID)
	if err != nil {
		s.failItem(item.ID, fmt.Errorf("listing %d not found: %w", item.ListingID, err))
		return false, err
	}

	html, _, err := s.fetch.Fetch(ctx, listing.URL, s.cfg.DetailTimeout)
	if err != nil {
		s.failItem(item.ID, err)
		return false, err
	}

	detail := s.parser.ParseDetailPage(html)
	if _, err := s.store.SaveListingDetail(listing.ID, detail); err != nil {
		s.failItem(item.ID, err)
		return false, err
	}

	if err := s.store.MarkQueueCompleted(item.ID); err != nil {
		return false, err
	}
	s.logger.Debug("[details] Completed %s (%s)", listing.ExternalID, listing.URL)
	return true, nil
}

func (s *Scheduler) failItem(id int64, cause error) {
	if err := s.store.MarkQueueFailed(id, cause.Error()); err != nil {
		s.logger.Error("[details] Could not mark item %d failed: %v", id, err)
	}
}

func (s *Scheduler) finishFailed(runID int64, stats models.RunStats, cause error) {
	stats.Errors++
	if err := s.store.FinishRun(runID, stats, models.RunFailed, cause.Error()); err != nil {
		s.logger.Error("[run] Could not finalize run %d: %v", runID, err)
	}
}
