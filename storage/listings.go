package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizbuysell-scraper/models"
)

const listingColumns = `id, external_id, title, business_category, asking_price,
	asking_price_raw, location_city, location_state, location_raw, revenue,
	cash_flow, seller_reason_raw, url, content_hash, first_seen_at,
	last_updated_at, is_active, is_retirement_listing`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	l := &models.Listing{}
	var price sql.NullInt64
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.Title, &l.BusinessCategory, &price,
		&l.AskingPriceRaw, &l.LocationCity, &l.LocationState, &l.LocationRaw,
		&l.Revenue, &l.CashFlow, &l.SellerReasonRaw, &l.URL, &l.ContentHash,
		&l.FirstSeenAt, &l.LastUpdatedAt, &l.IsActive, &l.IsRetirementListing,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if price.Valid {
		l.AskingPrice = &price.Int64
	}
	return l, nil
}

// UpsertListing merges one summary into the store. Returns the canonical
// listing plus (isNew, isUpdated). A byte-identical re-observation only
// refreshes last_updated_at; a changed fingerprint overwrites the mutable
// fields and appends a snapshot; a first sighting inserts listing + snapshot.
func (s *Store) UpsertListing(summary *models.ListingSummary) (*models.Listing, bool, bool, error) {
	if summary.ExternalID == "" {
		return nil, false, false, errors.New("external_id is required")
	}

	hash := models.ContentHash(summary)
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, false, false, fmt.Errorf("marshal summary: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanListing(tx.QueryRow(
		`SELECT `+listingColumns+` FROM listings WHERE external_id = $1`,
		summary.ExternalID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, false, err
	}

	if existing == nil {
		var id int64
		err = tx.QueryRow(`
			INSERT INTO listings (external_id, title, business_category,
				asking_price, asking_price_raw, location_city, location_state,
				location_raw, revenue, cash_flow, seller_reason_raw, url,
				content_hash, first_seen_at, last_updated_at, is_active,
				is_retirement_listing)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,TRUE,$16)
			RETURNING id`,
			summary.ExternalID, summary.Title, summary.BusinessCategory,
			nullablePrice(summary.AskingPrice), summary.AskingPriceRaw,
			summary.LocationCity, summary.LocationState, summary.LocationRaw,
			summary.Revenue, summary.CashFlow, summary.SellerReasonRaw,
			summary.URL, hash, now, now, summary.IsRetirementListing,
		).Scan(&id)
		if err != nil {
			return nil, false, false, fmt.Errorf("insert listing: %w", err)
		}

		if err := insertSnapshot(tx, id, string(payload), hash, now); err != nil {
			return nil, false, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, false, fmt.Errorf("commit upsert: %w", err)
		}

		return &models.Listing{
			ID:                  id,
			ExternalID:          summary.ExternalID,
			Title:               summary.Title,
			BusinessCategory:    summary.BusinessCategory,
			AskingPrice:         summary.AskingPrice,
			AskingPriceRaw:      summary.AskingPriceRaw,
			LocationCity:        summary.LocationCity,
			LocationState:       summary.LocationState,
			LocationRaw:         summary.LocationRaw,
			Revenue:             summary.Revenue,
			CashFlow:            summary.CashFlow,
			SellerReasonRaw:     summary.SellerReasonRaw,
			URL:                 summary.URL,
			ContentHash:         hash,
			FirstSeenAt:         now,
			LastUpdatedAt:       now,
			IsActive:            true,
			IsRetirementListing: summary.IsRetirementListing,
		}, true, false, nil
	}

	if existing.ContentHash != hash {
		_, err = tx.Exec(`
			UPDATE listings SET title = $1, business_category = $2,
				asking_price = $3, asking_price_raw = $4, location_city = $5,
				location_state = $6, location_raw = $7, revenue = $8,
				cash_flow = $9, seller_reason_raw = $10, url = $11,
				content_hash = $12, is_retirement_listing = $13,
				last_updated_at = $14
			WHERE id = $15`,
			summary.Title, summary.BusinessCategory,
			nullablePrice(summary.AskingPrice), summary.AskingPriceRaw,
			summary.LocationCity, summary.LocationState, summary.LocationRaw,
			summary.Revenue, summary.CashFlow, summary.SellerReasonRaw,
			summary.URL, hash, summary.IsRetirementListing, now, existing.ID,
		)
		if err != nil {
			return nil, false, false, fmt.Errorf("update listing: %w", err)
		}

		if err := insertSnapshot(tx, existing.ID, string(payload), hash, now); err != nil {
			return nil, false, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, false, fmt.Errorf("commit upsert: %w", err)
		}

		existing.Title = summary.Title
		existing.BusinessCategory = summary.BusinessCategory
		existing.AskingPrice = summary.AskingPrice
		existing.AskingPriceRaw = summary.AskingPriceRaw
		existing.LocationCity = summary.LocationCity
		existing.LocationState = summary.LocationState
		existing.LocationRaw = summary.LocationRaw
		existing.Revenue = summary.Revenue
		existing.CashFlow = summary.CashFlow
		existing.SellerReasonRaw = summary.SellerReasonRaw
		existing.URL = summary.URL
		existing.ContentHash = hash
		existing.IsRetirementListing = summary.IsRetirementListing
		existing.LastUpdatedAt = now
		return existing, false, true, nil
	}

	// Unchanged content: heartbeat only.
	if _, err := tx.Exec(
		`UPDATE listings SET last_updated_at = $1 WHERE id = $2`, now, existing.ID,
	); err != nil {
		return nil, false, false, fmt.Errorf("heartbeat listing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, false, fmt.Errorf("commit upsert: %w", err)
	}
	existing.LastUpdatedAt = now
	return existing, false, false, nil
}

func insertSnapshot(tx *sql.Tx, listingID int64, payload, hash string, now time.Time) error {
	if _, err := tx.Exec(`
		INSERT INTO listing_snapshots (listing_id, data_json, content_hash, created_at)
		VALUES ($1,$2,$3,$4)`,
		listingID, payload, hash, now,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func nullablePrice(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// GetListingByID fetches one listing by primary key.
func (s *Store) GetListingByID(id int64) (*models.Listing, error) {
	return scanListing(s.db.QueryRow(
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
}

// GetListingByExternalID fetches one listing by the site's stable key.
func (s *Store) GetListingByExternalID(externalID string) (*models.Listing, error) {
	return scanListing(s.db.QueryRow(
		`SELECT `+listingColumns+` FROM listings WHERE external_id = $1`, externalID))
}

// SaveListingDetail overwrites the single detail row for a listing and marks
// it completed with a fresh scraped_at, whether or not a row existed before.
func (s *Store) SaveListingDetail(listingID int64, detail models.DetailData) (*models.ListingDetail, error) {
	financial := "{}"
	if detail.FinancialDetails != nil {
		raw, err := json.Marshal(detail.FinancialDetails)
		if err != nil {
			return nil, fmt.Errorf("marshal financial details: %w", err)
		}
		financial = string(raw)
	}
	now := time.Now().UTC()

	if _, err := s.db.Exec(
		`DELETE FROM listing_details WHERE listing_id = $1`, listingID); err != nil {
		return nil, fmt.Errorf("replace detail: %w", err)
	}

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO listing_details (listing_id, full_description,
			financial_details, years_in_business, employees,
			real_estate_included, inventory_value, training_included,
			detailed_location, reason_for_selling, scraped_at, scrape_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		listingID, detail.FullDescription, financial, detail.YearsInBusiness,
		detail.Employees, nullableBool(detail.RealEstateIncluded),
		detail.InventoryValue, nullableBool(detail.TrainingIncluded),
		detail.DetailedLocation, detail.ReasonForSelling, now, "completed",
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert detail: %w", err)
	}

	return &models.ListingDetail{
		ID:           id,
		ListingID:    listingID,
		DetailData:   detail,
		ScrapedAt:    now,
		ScrapeStatus: "completed",
	}, nil
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

// GetListingDetail returns the detail row for a listing, or ErrNotFound.
func (s *Store) GetListingDetail(listingID int64) (*models.ListingDetail, error) {
	d := &models.ListingDetail{}
	var financial string
	var realEstate, training sql.NullBool
	err := s.db.QueryRow(`
		SELECT id, listing_id, full_description, financial_details,
			years_in_business, employees, real_estate_included,
			inventory_value, training_included, detailed_location,
			reason_for_selling, scraped_at, scrape_status
		FROM listing_details WHERE listing_id = $1`, listingID,
	).Scan(
		&d.ID, &d.ListingID, &d.FullDescription, &financial,
		&d.YearsInBusiness, &d.Employees, &realEstate, &d.InventoryValue,
		&training, &d.DetailedLocation, &d.ReasonForSelling, &d.ScrapedAt,
		&d.ScrapeStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan detail: %w", err)
	}
	if realEstate.Valid {
		d.RealEstateIncluded = &realEstate.Bool
	}
	if training.Valid {
		d.TrainingIncluded = &training.Bool
	}
	if financial != "" && financial != "{}" {
		if err := json.Unmarshal([]byte(financial), &d.FinancialDetails); err != nil {
			return nil, fmt.Errorf("unmarshal financial details: %w", err)
		}
	}
	return d, nil
}

// SnapshotsForListing lists the change history for a listing, oldest first.
func (s *Store) SnapshotsForListing(listingID int64) ([]*models.ListingSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, listing_id, data_json, content_hash, created_at
		FROM listing_snapshots WHERE listing_id = $1 ORDER BY id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.ListingSnapshot
	for rows.Next() {
		snap := &models.ListingSnapshot{}
		if err := rows.Scan(&snap.ID, &snap.ListingID, &snap.DataJSON,
			&snap.ContentHash, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// ListListings returns listings matching the filter, most recently updated
// first.
func (s *Store) ListListings(filter models.ListingFilter) ([]*models.Listing, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}
	if filter.IsRetirement != nil {
		conds = append(conds, "is_retirement_listing = "+arg(*filter.IsRetirement))
	}
	if filter.MinPrice != nil {
		conds = append(conds, "asking_price >= "+arg(*filter.MinPrice))
	}
	if filter.MaxPrice != nil {
		conds = append(conds, "asking_price <= "+arg(*filter.MaxPrice))
	}
	if filter.State != "" {
		conds = append(conds, "location_state = "+arg(filter.State))
	}
	if filter.City != "" {
		conds = append(conds, "location_city = "+arg(filter.City))
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Stats returns the aggregate counts exposed to collaborators.
func (s *Store) Stats() (*models.Stats, error) {
	stats := &models.Stats{}
	since := time.Now().UTC().Add(-24 * time.Hour)

	err := s.db.QueryRow(`SELECT COUNT(*) FROM listings`).Scan(&stats.TotalListings)
	if err != nil {
		return nil, fmt.Errorf("count listings: %w", err)
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM listings WHERE is_active = TRUE`).
		Scan(&stats.ActiveListings)
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM listings WHERE is_retirement_listing = TRUE AND is_active = TRUE`).
		Scan(&stats.RetirementListings)
	if err != nil {
		return nil, fmt.Errorf("count retirement: %w", err)
	}
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM listings WHERE first_seen_at >= $1`, since).
		Scan(&stats.NewToday)
	if err != nil {
		return nil, fmt.Errorf("count new: %w", err)
	}
	return stats, nil
}

// MarkListingInactive flags a listing no longer observed. Exposed for
// external maintenance; the scheduled passes never call it.
func (s *Store) MarkListingInactive(externalID string) error {
	res, err := s.db.Exec(`
		UPDATE listings SET is_active = FALSE, last_updated_at = $1
		WHERE external_id = $2`,
		time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("mark inactive: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordUserAction stores a free-text tag + note against a listing.
func (s *Store) RecordUserAction(listingID int64, action, notes string) (*models.UserAction, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO user_actions (listing_id, action, notes, created_at)
		VALUES ($1,$2,$3,$4) RETURNING id`,
		listingID, action, notes, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert user action: %w", err)
	}
	return &models.UserAction{
		ID: id, ListingID: listingID, Action: action, Notes: notes, CreatedAt: now,
	}, nil
}
