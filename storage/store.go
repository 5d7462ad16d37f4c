package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the single handle to the relational store. It is opened at process
// start, passed down explicitly, and closed at shutdown.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database named by dsn and runs schema migrations.
// A postgres:// DSN uses PostgreSQL; anything else is treated as a SQLite
// file path (":memory:" gives an in-memory database, used by tests).
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	if driver == "sqlite" {
		// Single connection avoids "database is locked"; busy timeout makes
		// concurrent writers wait instead of failing immediately.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: busy timeout: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: journal mode: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS listings (
			id                    %s,
			external_id           VARCHAR(1000) UNIQUE NOT NULL,
			title                 TEXT NOT NULL,
			business_category     VARCHAR(200) NOT NULL DEFAULT '',
			asking_price          BIGINT,
			asking_price_raw      VARCHAR(100) NOT NULL DEFAULT '',
			location_city         VARCHAR(200) NOT NULL DEFAULT '',
			location_state        VARCHAR(50)  NOT NULL DEFAULT '',
			location_raw          VARCHAR(300) NOT NULL DEFAULT '',
			revenue               VARCHAR(100) NOT NULL DEFAULT '',
			cash_flow             VARCHAR(100) NOT NULL DEFAULT '',
			seller_reason_raw     TEXT NOT NULL DEFAULT '',
			url                   TEXT NOT NULL,
			content_hash          VARCHAR(64) NOT NULL,
			first_seen_at         TIMESTAMP NOT NULL,
			last_updated_at       TIMESTAMP NOT NULL,
			is_active             BOOLEAN NOT NULL DEFAULT TRUE,
			is_retirement_listing BOOLEAN NOT NULL DEFAULT FALSE
		)`, pk),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS listing_details (
			id                   %s,
			listing_id           BIGINT UNIQUE NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			full_description     TEXT NOT NULL DEFAULT '',
			financial_details    TEXT NOT NULL DEFAULT '{}',
			years_in_business    VARCHAR(50)  NOT NULL DEFAULT '',
			employees            VARCHAR(50)  NOT NULL DEFAULT '',
			real_estate_included BOOLEAN,
			inventory_value      VARCHAR(100) NOT NULL DEFAULT '',
			training_included    BOOLEAN,
			detailed_location    VARCHAR(500) NOT NULL DEFAULT '',
			reason_for_selling   TEXT NOT NULL DEFAULT '',
			scraped_at           TIMESTAMP NOT NULL,
			scrape_status        VARCHAR(50) NOT NULL DEFAULT 'pending'
		)`, pk),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS listing_snapshots (
			id           %s,
			listing_id   BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			data_json    TEXT NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			created_at   TIMESTAMP NOT NULL
		)`, pk),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS scraping_queue (
			id            %s,
			listing_id    BIGINT UNIQUE NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			priority      INTEGER NOT NULL DEFAULT 0,
			status        VARCHAR(50) NOT NULL DEFAULT 'pending',
			retry_count   INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMP NOT NULL,
			processed_at  TIMESTAMP
		)`, pk),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS scrape_runs (
			id                   %s,
			run_type             VARCHAR(50) NOT NULL,
			started_at           TIMESTAMP NOT NULL,
			completed_at         TIMESTAMP,
			listings_found       INTEGER NOT NULL DEFAULT 0,
			new_listings         INTEGER NOT NULL DEFAULT 0,
			updated_listings     INTEGER NOT NULL DEFAULT 0,
			detail_pages_scraped INTEGER NOT NULL DEFAULT 0,
			errors               INTEGER NOT NULL DEFAULT 0,
			status               VARCHAR(50) NOT NULL DEFAULT 'running',
			error_message        TEXT NOT NULL DEFAULT ''
		)`, pk),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS user_actions (
			id         %s,
			listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			action     VARCHAR(50) NOT NULL,
			notes      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_listings_price      ON listings(asking_price)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_location   ON listings(location_state, location_city)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_retirement ON listings(is_retirement_listing, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_updated    ON listings(last_updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_listing   ON listing_snapshots(listing_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status        ON scraping_queue(status, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started        ON scrape_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_actions_listing ON user_actions(listing_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
