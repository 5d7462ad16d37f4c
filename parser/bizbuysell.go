package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bizbuysell-scraper/models"
)

const DefaultBaseURL = "https://www.bizbuysell.com"

// retirementKeywords drive the deterministic retirement classification.
// Matching is case-insensitive substring, seller reason first, title second.
var retirementKeywords = []string{
	"retire",
	"retiring",
	"retirement",
	"ready to retire",
	"planning to retire",
	"owner ready to retire",
	"ready to sell",
	"owner retiring",
	"seller retiring",
	"owner is retiring",
	"retirement sale",
	"selling due to retirement",
	"exit due to retirement",
	"owner seeking retirement",
	"retirement plans",
	"sell due to retirement",
	"owners retiring",
	"retire and move",
}

// commonCategories is the fixed vocabulary for category inference. First
// match against the lowercased title wins; otherwise the first two title
// words are used.
var commonCategories = []string{
	"Restaurant",
	"Liquor Store",
	"Convenience Store",
	"Gas Station",
	"Retail",
	"Auto Repair",
	"Dental Practice",
	"Medical Practice",
	"Manufacturing",
	"Distribution",
	"Service",
	"Technology",
	"E-commerce",
	"Online Business",
	"Franchise",
	"Cafe",
	"Bar",
	"Hotel",
	"Motel",
	"Storage",
	"Laundromat",
	"Car Wash",
	"Fitness",
	"Gym",
	"Salon",
	"Spa",
	"Construction",
	"Landscaping",
}

var (
	// priceNumRe captures the numeric part of "$1.2 million" / "$45k" style prices.
	priceNumRe = regexp.MustCompile(`[\d.]+`)
	// nonPriceCharsRe strips everything but digits and dots.
	nonPriceCharsRe = regexp.MustCompile(`[^\d.]`)
	// urlIDRe extracts a numeric listing id from a URL path segment.
	urlIDRe = regexp.MustCompile(`/(\d+)/`)
)

// Parser extracts listing data from BizBuySell markup. All methods are pure
// functions over already-fetched HTML.
type Parser struct {
	baseURL string
}

// New creates a Parser resolving relative hrefs against baseURL.
func New(baseURL string) *Parser {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Parser{baseURL: baseURL}
}

// ParseSearchResults extracts summary records from a search-results page.
// Candidate anchors come from the three listing tiers; duplicates are removed
// by element id, falling back to href. A broken element is skipped, never
// aborting the page.
func (p *Parser) ParseSearchResults(html string) ([]*models.ListingSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var elements []*goquery.Selection
	for _, selector := range []string{"a.diamond", "a.showcase", "a.basic"} {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			elements = append(elements, s)
		})
	}

	seen := make(map[string]struct{})
	var listings []*models.ListingSummary
	for _, el := range elements {
		key := el.AttrOr("id", "")
		if key == "" {
			key = el.AttrOr("href", "")
		}
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if summary := p.extractListing(el); summary != nil {
			listings = append(listings, summary)
		}
	}

	return listings, nil
}

// extractListing pulls one summary out of a listing anchor. Returns nil when
// the element has no href.
func (p *Parser) extractListing(el *goquery.Selection) *models.ListingSummary {
	href := el.AttrOr("href", "")
	if href == "" {
		return nil
	}

	fullURL := p.resolveURL(href)
	externalID := el.AttrOr("id", "")
	if externalID == "" {
		externalID = extractIDFromURL(fullURL)
	}
	if externalID == "" {
		externalID = fullURL
	}

	title := strings.TrimSpace(el.Find("span.title").First().Text())

	var askingPrice *int64
	askingPriceRaw := ""
	if priceEl := el.Find(".asking-price, .asking-price-mobile").First(); priceEl.Length() > 0 {
		askingPriceRaw = strings.TrimSpace(priceEl.Text())
		askingPrice = ParsePrice(askingPriceRaw)
	}

	city, state, locationRaw := "", "", ""
	if locEl := el.Find("p.location").First(); locEl.Length() > 0 {
		locationRaw = strings.TrimSpace(locEl.Text())
		city, state = parseLocation(locationRaw)
	}

	cashFlow := ""
	if cfEl := el.Find("p.cash-flow, p.cash-flow-on-mobile").First(); cfEl.Length() > 0 {
		cashFlow = extractCashFlow(strings.TrimSpace(cfEl.Text()))
	}

	sellerReason := ""
	isRetirement := false
	if descEl := el.Find("p.description").First(); descEl.Length() > 0 {
		sellerReason = strings.TrimSpace(descEl.Text())
		isRetirement = DetectRetirementKeywords(sellerReason)
	}
	if !isRetirement {
		isRetirement = DetectRetirementKeywords(title)
	}

	return &models.ListingSummary{
		ExternalID:          externalID,
		Title:               title,
		BusinessCategory:    extractCategoryFromTitle(title),
		AskingPrice:         askingPrice,
		AskingPriceRaw:      askingPriceRaw,
		LocationCity:        city,
		LocationState:       state,
		LocationRaw:         locationRaw,
		CashFlow:            cashFlow,
		SellerReasonRaw:     sellerReason,
		URL:                 fullURL,
		IsRetirementListing: isRetirement,
	}
}

// FindNextPageURL returns the next pagination URL, or "" when pagination is
// exhausted. An explicit next control wins; otherwise the page query
// parameter is incremented.
func (p *Parser) FindNextPageURL(html, currentURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		for _, selector := range []string{"a[rel='next']", "a.next", "li.next a", "a[aria-label='Next']"} {
			if link := doc.Find(selector).First(); link.Length() > 0 {
				if href := link.AttrOr("href", ""); href != "" {
					return p.resolveURL(href)
				}
			}
		}
	}

	parsed, err := url.Parse(currentURL)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	page := 1
	if n, err := strconv.Atoi(query.Get("page")); err == nil {
		page = n
	}
	query.Set("page", strconv.Itoa(page+1))
	parsed.RawQuery = query.Encode()

	next := parsed.String()
	if next == currentURL {
		return ""
	}
	return next
}

// ParsePrice converts price text to integer dollars. "$1.2 million" → 1200000,
// "$45k" → 45000, "$350,000" → 350000; nil when unparsable.
func ParsePrice(priceText string) *int64 {
	priceText = strings.TrimSpace(priceText)
	if priceText == "" {
		return nil
	}

	lower := strings.ToLower(priceText)
	if strings.Contains(lower, "million") {
		if m := priceNumRe.FindString(priceText); m != "" {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				v := int64(f * 1_000_000)
				return &v
			}
		}
	}
	if strings.Contains(lower, "k") {
		if m := priceNumRe.FindString(priceText); m != "" {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				v := int64(f * 1_000)
				return &v
			}
		}
	}

	cleaned := nonPriceCharsRe.ReplaceAllString(priceText, "")
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	v := int64(f)
	return &v
}

// DetectRetirementKeywords reports whether text matches the retirement
// keyword vocabulary.
func DetectRetirementKeywords(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range retirementKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractCategoryFromTitle(title string) string {
	lower := strings.ToLower(title)
	for _, category := range commonCategories {
		if strings.Contains(lower, strings.ToLower(category)) {
			return category
		}
	}
	words := strings.Fields(title)
	if len(words) >= 2 {
		return strings.Join(words[:2], " ")
	}
	return ""
}

// parseLocation splits "City, ST" on the first comma.
func parseLocation(locationText string) (city, state string) {
	if locationText == "" {
		return "", ""
	}
	parts := strings.SplitN(locationText, ",", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(locationText), ""
}

func extractCashFlow(cashText string) string {
	return strings.TrimSpace(strings.ReplaceAll(cashText, "Cash Flow:", ""))
}

func extractIDFromURL(rawURL string) string {
	if m := urlIDRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func (p *Parser) resolveURL(href string) string {
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
