package models

import "time"

// Queue item statuses. failed is terminal until a later search pass
// re-discovers the listing and re-arms the item.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// Scrape run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run kinds.
const (
	RunTypeSearch  = "search"
	RunTypeDetails = "details"
)

// ListingSummary is the lightweight record extracted from one anchor element
// on a search-results page, before it is merged into the store.
type ListingSummary struct {
	ExternalID          string `json:"external_id"`
	Title               string `json:"title"`
	BusinessCategory    string `json:"business_category"`
	AskingPrice         *int64 `json:"asking_price"`
	AskingPriceRaw      string `json:"asking_price_raw"`
	LocationCity        string `json:"location_city"`
	LocationState       string `json:"location_state"`
	LocationRaw         string `json:"location_raw"`
	Revenue             string `json:"revenue"`
	CashFlow            string `json:"cash_flow"`
	SellerReasonRaw     string `json:"seller_reason_raw"`
	URL                 string `json:"url"`
	IsRetirementListing bool   `json:"is_retirement_listing"`
}

// Listing is the canonical stored record, keyed by the site's external id.
type Listing struct {
	ID                  int64     `json:"id"`
	ExternalID          string    `json:"external_id"`
	Title               string    `json:"title"`
	BusinessCategory    string    `json:"business_category"`
	AskingPrice         *int64    `json:"asking_price"`
	AskingPriceRaw      string    `json:"asking_price_raw"`
	LocationCity        string    `json:"location_city"`
	LocationState       string    `json:"location_state"`
	LocationRaw         string    `json:"location_raw"`
	Revenue             string    `json:"revenue"`
	CashFlow            string    `json:"cash_flow"`
	SellerReasonRaw     string    `json:"seller_reason_raw"`
	URL                 string    `json:"url"`
	ContentHash         string    `json:"content_hash"`
	FirstSeenAt         time.Time `json:"first_seen_at"`
	LastUpdatedAt       time.Time `json:"last_updated_at"`
	IsActive            bool      `json:"is_active"`
	IsRetirementListing bool      `json:"is_retirement_listing"`
}

// DetailData is the parser's output for a single detail page.
// RealEstateIncluded and TrainingIncluded are three-state: nil means the
// page's phrasing matched neither the yes- nor the no-vocabulary.
type DetailData struct {
	FullDescription    string            `json:"full_description"`
	FinancialDetails   map[string]string `json:"financial_details"`
	YearsInBusiness    string            `json:"years_in_business"`
	Employees          string            `json:"employees"`
	RealEstateIncluded *bool             `json:"real_estate_included"`
	InventoryValue     string            `json:"inventory_value"`
	TrainingIncluded   *bool             `json:"training_included"`
	DetailedLocation   string            `json:"detailed_location"`
	ReasonForSelling   string            `json:"reason_for_selling"`
}

// ListingDetail is the stored 1:1 detail record, overwritten wholesale on
// every successful detail fetch.
type ListingDetail struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listing_id"`
	DetailData
	ScrapedAt    time.Time `json:"scraped_at"`
	ScrapeStatus string    `json:"scrape_status"`
}

// ListingSnapshot is one row of the append-only change history.
type ListingSnapshot struct {
	ID          int64     `json:"id"`
	ListingID   int64     `json:"listing_id"`
	DataJSON    string    `json:"data_json"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueItem is one outstanding detail-fetch job. At most one per listing.
type QueueItem struct {
	ID           int64      `json:"id"`
	ListingID    int64      `json:"listing_id"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
}

// ScrapeRun records one execution of a search or details pass.
type ScrapeRun struct {
	ID           int64      `json:"id"`
	RunType      string     `json:"run_type"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	RunStats
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// RunStats accumulates counters across a pass and is written once at run end.
type RunStats struct {
	ListingsFound      int `json:"listings_found"`
	NewListings        int `json:"new_listings"`
	UpdatedListings    int `json:"updated_listings"`
	DetailPagesScraped int `json:"detail_pages_scraped"`
	Errors             int `json:"errors"`
}

// UserAction is a free-text tag recorded against a listing by a collaborator,
// independent of the crawl state machine.
type UserAction struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listing_id"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

// ListingFilter narrows store listing queries.
type ListingFilter struct {
	MinPrice     *int64
	MaxPrice     *int64
	State        string
	City         string
	IsActive     *bool
	IsRetirement *bool
}

// Stats are the aggregate counts exposed to collaborators.
type Stats struct {
	TotalListings      int `json:"total_listings"`
	ActiveListings     int `json:"active_listings"`
	RetirementListings int `json:"retirement_listings"`
	NewToday           int `json:"new_today"`
}
