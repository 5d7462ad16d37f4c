package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bizbuysell-scraper/models"
)

// StartRun inserts a running row for a new pass execution and returns its id.
func (s *Store) StartRun(runType string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO scrape_runs (run_type, started_at, status)
		VALUES ($1,$2,$3) RETURNING id`,
		runType, time.Now().UTC(), models.RunRunning,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun finalizes a run exactly once: counters, terminal status, optional
// error message, completed_at.
func (s *Store) FinishRun(id int64, stats models.RunStats, status, errorMessage string) error {
	if _, err := s.db.Exec(`
		UPDATE scrape_runs
		SET listings_found = $1, new_listings = $2, updated_listings = $3,
			detail_pages_scraped = $4, errors = $5, status = $6,
			error_message = $7, completed_at = $8
		WHERE id = $9`,
		stats.ListingsFound, stats.NewListings, stats.UpdatedListings,
		stats.DetailPagesScraped, stats.Errors, status, errorMessage,
		time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(id int64) (*models.ScrapeRun, error) {
	return scanRun(s.db.QueryRow(runSelect+` WHERE id = $1`, id))
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]*models.ScrapeRun, error) {
	rows, err := s.db.Query(runSelect+` ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ScrapeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runSelect = `
	SELECT id, run_type, started_at, completed_at, listings_found,
		new_listings, updated_listings, detail_pages_scraped, errors,
		status, error_message
	FROM scrape_runs`

func scanRun(row rowScanner) (*models.ScrapeRun, error) {
	run := &models.ScrapeRun{}
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID, &run.RunType, &run.StartedAt, &completedAt,
		&run.ListingsFound, &run.NewListings, &run.UpdatedListings,
		&run.DetailPagesScraped, &run.Errors, &run.Status, &run.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}
