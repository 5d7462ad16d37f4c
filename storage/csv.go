package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"bizbuysell-scraper/models"
)

var exportHeader = []string{
	"external_id", "title", "business_category", "asking_price",
	"asking_price_raw", "location_city", "location_state", "location_raw",
	"revenue", "cash_flow", "seller_reason_raw", "url",
	"is_retirement_listing", "first_seen_at", "last_updated_at",
}

// ExportCSV writes filtered listings to a CSV file at path, most recently
// updated first. Intermediate directories are created automatically.
func (s *Store) ExportCSV(path string, onlyRetirement, activeOnly bool) (int, error) {
	filter := models.ListingFilter{}
	if activeOnly {
		active := true
		filter.IsActive = &active
	}
	if onlyRetirement {
		retirement := true
		filter.IsRetirement = &retirement
	}

	listings, err := s.ListListings(filter)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("csv: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("csv: write header: %w", err)
	}

	for _, l := range listings {
		price := ""
		if l.AskingPrice != nil {
			price = strconv.FormatInt(*l.AskingPrice, 10)
		}
		row := []string{
			l.ExternalID,
			l.Title,
			l.BusinessCategory,
			price,
			l.AskingPriceRaw,
			l.LocationCity,
			l.LocationState,
			l.LocationRaw,
			l.Revenue,
			l.CashFlow,
			l.SellerReasonRaw,
			l.URL,
			strconv.FormatBool(l.IsRetirementListing),
			l.FirstSeenAt.Format(time.RFC3339),
			l.LastUpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return 0, fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("csv: flush: %w", err)
	}
	return len(listings), nil
}
