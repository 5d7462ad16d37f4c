package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bizbuysell-scraper/models"
)

// EnqueueDetailScrape arms a detail-fetch job for a listing. A missing row is
// inserted pending; a completed/failed row is reset to pending; in every case
// the priority only ever goes up. The unique constraint on listing_id keeps
// at most one outstanding job per listing.
func (s *Store) EnqueueDetailScrape(listingID int64, priority int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var status string
	var existingPriority int
	err = tx.QueryRow(`
		SELECT id, status, priority FROM scraping_queue WHERE listing_id = $1`,
		listingID,
	).Scan(&id, &status, &existingPriority)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(`
			INSERT INTO scraping_queue (listing_id, priority, status, created_at)
			VALUES ($1,$2,$3,$4)`,
			listingID, priority, models.QueuePending, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("insert queue item: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lookup queue item: %w", err)
	default:
		newStatus := status
		if status == models.QueueCompleted || status == models.QueueFailed {
			newStatus = models.QueuePending
		}
		newPriority := existingPriority
		if priority > newPriority {
			newPriority = priority
		}
		if newStatus != status || newPriority != existingPriority {
			if _, err := tx.Exec(`
				UPDATE scraping_queue SET status = $1, priority = $2 WHERE id = $3`,
				newStatus, newPriority, id,
			); err != nil {
				return fmt.Errorf("update queue item: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// PendingDetailScrapes returns up to limit pending jobs, highest priority
// first, oldest first within a priority tier.
func (s *Store) PendingDetailScrapes(limit int) ([]*models.QueueItem, error) {
	rows, err := s.db.Query(`
		SELECT id, listing_id, priority, status, retry_count, error_message,
			created_at, processed_at
		FROM scraping_queue
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $2`,
		models.QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimQueueItem transitions a pending item to processing. The conditional
// update is the lease: it reports false when another worker already claimed
// the item (or it left pending some other way).
func (s *Store) ClaimQueueItem(id int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE scraping_queue SET status = $1 WHERE id = $2 AND status = $3`,
		models.QueueProcessing, id, models.QueuePending)
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}
	return n == 1, nil
}

// MarkQueueCompleted finishes a job successfully.
func (s *Store) MarkQueueCompleted(id int64) error {
	if _, err := s.db.Exec(`
		UPDATE scraping_queue SET status = $1, processed_at = $2 WHERE id = $3`,
		models.QueueCompleted, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkQueueFailed records a failed attempt. The row stays failed (visible for
// inspection) until a later search pass re-discovers the listing and
// re-enqueues it.
func (s *Store) MarkQueueFailed(id int64, errorMessage string) error {
	if _, err := s.db.Exec(`
		UPDATE scraping_queue
		SET status = $1, retry_count = retry_count + 1, error_message = $2,
			processed_at = $3
		WHERE id = $4`,
		models.QueueFailed, errorMessage, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// GetQueueItem fetches one job by id.
func (s *Store) GetQueueItem(id int64) (*models.QueueItem, error) {
	item, err := scanQueueItem(s.db.QueryRow(`
		SELECT id, listing_id, priority, status, retry_count, error_message,
			created_at, processed_at
		FROM scraping_queue WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return item, nil
}

// QueueItemForListing fetches the job for a listing, or ErrNotFound.
func (s *Store) QueueItemForListing(listingID int64) (*models.QueueItem, error) {
	return scanQueueItem(s.db.QueryRow(`
		SELECT id, listing_id, priority, status, retry_count, error_message,
			created_at, processed_at
		FROM scraping_queue WHERE listing_id = $1`, listingID))
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var processedAt sql.NullTime
	err := row.Scan(
		&item.ID, &item.ListingID, &item.Priority, &item.Status,
		&item.RetryCount, &item.ErrorMessage, &item.CreatedAt, &processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	if processedAt.Valid {
		item.ProcessedAt = &processedAt.Time
	}
	return item, nil
}
