package storage

import (
	"errors"
	"testing"

	"bizbuysell-scraper/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSummary(externalID string) *models.ListingSummary {
	price := int64(350000)
	return &models.ListingSummary{
		ExternalID:          externalID,
		Title:               "Profitable Restaurant For Sale",
		BusinessCategory:    "Restaurant",
		AskingPrice:         &price,
		AskingPriceRaw:      "$350,000",
		LocationCity:        "Austin",
		LocationState:       "TX",
		LocationRaw:         "Austin, TX",
		CashFlow:            "$120,000",
		SellerReasonRaw:     "Owner retiring",
		URL:                 "https://www.bizbuysell.com/business-opportunity/" + externalID + "/",
		IsRetirementListing: true,
	}
}

func TestUpsertListingNew(t *testing.T) {
	s := openTestStore(t)

	listing, isNew, isUpdated, err := s.UpsertListing(testSummary("111"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !isNew || isUpdated {
		t.Errorf("first sighting: got isNew=%v isUpdated=%v", isNew, isUpdated)
	}
	if listing.ID == 0 {
		t.Error("expected assigned id")
	}
	if !listing.IsActive {
		t.Error("new listing should be active")
	}

	stored, err := s.GetListingByExternalID("111")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if stored.Title != "Profitable Restaurant For Sale" || stored.ContentHash == "" {
		t.Errorf("stored listing incomplete: %+v", stored)
	}
	if stored.AskingPrice == nil || *stored.AskingPrice != 350000 {
		t.Errorf("asking price: got %v", stored.AskingPrice)
	}

	snapshots, err := s.SnapshotsForListing(listing.ID)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snapshots) != 1 {
		t.Errorf("expected 1 snapshot after insert, got %d", len(snapshots))
	}
}

func TestUpsertListingIdempotent(t *testing.T) {
	s := openTestStore(t)

	first, _, _, err := s.UpsertListing(testSummary("111"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, isNew, isUpdated, err := s.UpsertListing(testSummary("111"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if isNew || isUpdated {
		t.Errorf("identical re-observation: got isNew=%v isUpdated=%v", isNew, isUpdated)
	}
	if second.ContentHash != first.ContentHash {
		t.Error("fingerprint must not change on identical re-observation")
	}

	snapshots, err := s.SnapshotsForListing(first.ID)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snapshots) != 1 {
		t.Errorf("identical re-observation must not append snapshots, got %d", len(snapshots))
	}
}

func TestUpsertListingChangeDetection(t *testing.T) {
	s := openTestStore(t)

	first, _, _, err := s.UpsertListing(testSummary("111"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	changed := testSummary("111")
	newPrice := int64(375000)
	changed.AskingPrice = &newPrice
	changed.AskingPriceRaw = "$375,000"

	updated, isNew, isUpdated, err := s.UpsertListing(changed)
	if err != nil {
		t.Fatalf("changed upsert: %v", err)
	}
	if isNew || !isUpdated {
		t.Errorf("changed re-observation: got isNew=%v isUpdated=%v", isNew, isUpdated)
	}
	if updated.ID != first.ID {
		t.Errorf("same listing row expected: %d vs %d", updated.ID, first.ID)
	}
	if updated.ContentHash == first.ContentHash {
		t.Error("fingerprint must change when a field changes")
	}
	if updated.AskingPrice == nil || *updated.AskingPrice != 375000 {
		t.Errorf("price not overwritten: %v", updated.AskingPrice)
	}

	snapshots, err := s.SnapshotsForListing(first.ID)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Errorf("expected exactly 2 snapshots after one change, got %d", len(snapshots))
	}
	if snapshots[0].ContentHash == snapshots[1].ContentHash {
		t.Error("snapshots should carry distinct fingerprints")
	}
}

func TestUpsertListingRequiresExternalID(t *testing.T) {
	s := openTestStore(t)

	summary := testSummary("111")
	summary.ExternalID = ""
	if _, _, _, err := s.UpsertListing(summary); err == nil {
		t.Error("expected error for empty external id")
	}
}

func TestSaveListingDetailOverwrites(t *testing.T) {
	s := openTestStore(t)

	listing, _, _, err := s.UpsertListing(testSummary("111"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	yes := true
	_, err = s.SaveListingDetail(listing.ID, models.DetailData{
		FullDescription: "first version",
		FinancialDetails: map[string]string{
			"Inventory": "$30,000",
		},
		TrainingIncluded: &yes,
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	no := false
	_, err = s.SaveListingDetail(listing.ID, models.DetailData{
		FullDescription:    "second version",
		YearsInBusiness:    "22",
		RealEstateIncluded: &no,
	})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}

	detail, err := s.GetListingDetail(listing.ID)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.FullDescription != "second version" {
		t.Errorf("detail not overwritten: %q", detail.FullDescription)
	}
	if detail.YearsInBusiness != "22" {
		t.Errorf("years in business: %q", detail.YearsInBusiness)
	}
	if detail.RealEstateIncluded == nil || *detail.RealEstateIncluded {
		t.Errorf("real estate: got %v, want false", detail.RealEstateIncluded)
	}
	if detail.TrainingIncluded != nil {
		t.Error("training flag from the first version must be gone")
	}
	if detail.FinancialDetails != nil {
		t.Errorf("financial details from the first version must be gone: %v", detail.FinancialDetails)
	}
	if detail.ScrapeStatus != "completed" {
		t.Errorf("scrape status: %q", detail.ScrapeStatus)
	}
}

func TestGetListingDetailNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetListingDetail(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkListingInactive(t *testing.T) {
	s := openTestStore(t)

	if _, _, _, err := s.UpsertListing(testSummary("111")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.MarkListingInactive("111"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	listing, err := s.GetListingByExternalID("111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if listing.IsActive {
		t.Error("listing should be inactive")
	}

	if err := s.MarkListingInactive("does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown listing, got %v", err)
	}
}

func TestListListingsFilter(t *testing.T) {
	s := openTestStore(t)

	tx := testSummary("111")
	fl := testSummary("222")
	fl.LocationCity = "Miami"
	fl.LocationState = "FL"
	fl.LocationRaw = "Miami, FL"
	fl.IsRetirementListing = false
	flPrice := int64(1200000)
	fl.AskingPrice = &flPrice
	gone := testSummary("333")

	for _, summary := range []*models.ListingSummary{tx, fl, gone} {
		if _, _, _, err := s.UpsertListing(summary); err != nil {
			t.Fatalf("upsert %s: %v", summary.ExternalID, err)
		}
	}
	if err := s.MarkListingInactive("333"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}

	active := true
	got, err := s.ListListings(models.ListingFilter{IsActive: &active})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("active listings: got %d, want 2", len(got))
	}

	retirement := true
	got, err = s.ListListings(models.ListingFilter{IsActive: &active, IsRetirement: &retirement})
	if err != nil {
		t.Fatalf("list retirement: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "111" {
		t.Errorf("retirement filter: got %d rows", len(got))
	}

	got, err = s.ListListings(models.ListingFilter{State: "FL"})
	if err != nil {
		t.Fatalf("list by state: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "222" {
		t.Errorf("state filter: got %d rows", len(got))
	}

	min := int64(500000)
	got, err = s.ListListings(models.ListingFilter{MinPrice: &min})
	if err != nil {
		t.Fatalf("list by min price: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "222" {
		t.Errorf("min price filter: got %d rows", len(got))
	}

	got, err = s.ListListings(models.ListingFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("unfiltered: got %d rows, want 3", len(got))
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	nonRetirement := testSummary("222")
	nonRetirement.IsRetirementListing = false
	for _, summary := range []*models.ListingSummary{testSummary("111"), nonRetirement, testSummary("333")} {
		if _, _, _, err := s.UpsertListing(summary); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.MarkListingInactive("333"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalListings != 3 {
		t.Errorf("total: got %d, want 3", stats.TotalListings)
	}
	if stats.ActiveListings != 2 {
		t.Errorf("active: got %d, want 2", stats.ActiveListings)
	}
	if stats.RetirementListings != 1 {
		t.Errorf("retirement: got %d, want 1", stats.RetirementListings)
	}
	if stats.NewToday != 3 {
		t.Errorf("new today: got %d, want 3", stats.NewToday)
	}
}

func TestRecordUserAction(t *testing.T) {
	s := openTestStore(t)

	listing, _, _, err := s.UpsertListing(testSummary("111"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	action, err := s.RecordUserAction(listing.ID, "contacted", "left voicemail")
	if err != nil {
		t.Fatalf("record action: %v", err)
	}
	if action.ID == 0 || action.Action != "contacted" || action.Notes != "left voicemail" {
		t.Errorf("unexpected action: %+v", action)
	}
}

func TestGetListingByIDNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetListingByID(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
