package parser

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"bizbuysell-scraper/models"
)

var descriptionSelectors = []string{
	"#listing-description",
	".listing-description",
	".business-description",
	"section.description",
	"div.description",
	".listingProfile_description",
}

var locationSelectors = []string{
	".location",
	".location-title",
	"#location",
	".cityState",
}

var reasonLabels = []string{
	"Reason for Selling",
	"Reason for sale",
	"Reason for Selling?",
}

// ParseDetailPage extracts the rich per-listing fields from a detail page.
// Extraction is best-effort: missing sections leave zero values.
func (p *Parser) ParseDetailPage(htmlText string) models.DetailData {
	var detail models.DetailData

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return detail
	}

	jsonLD := extractJSONLD(doc)
	jsonDescription := extractJSONLDDescription(jsonLD)
	jsonReason := extractReasonFromText(jsonDescription)

	detail.FullDescription = extractTextFromCandidates(doc, descriptionSelectors)
	if detail.FullDescription == "" {
		detail.FullDescription = jsonDescription
	}

	detail.DetailedLocation = extractTextFromCandidates(doc, locationSelectors)

	detail.ReasonForSelling = extractLabeledValue(doc, reasonLabels)
	if detail.ReasonForSelling == "" {
		detail.ReasonForSelling = jsonReason
	}

	kvPairs := extractKeyValuePairs(doc)
	if len(kvPairs) > 0 {
		detail.FinancialDetails = kvPairs
	}

	detail.YearsInBusiness = findKVValue(kvPairs, "Years in Business", "Years in business")
	detail.Employees = findKVValue(kvPairs, "Employees", "Number of Employees", "# Employees")
	detail.InventoryValue = findKVValue(kvPairs, "Inventory", "Inventory Value")
	detail.TrainingIncluded = parseYesNo(findKVValue(kvPairs, "Training", "Training Provided"))
	detail.RealEstateIncluded = parseYesNo(findKVValue(kvPairs, "Real Estate", "Real Estate Included"))

	return detail
}

// extractTextFromCandidates returns the text of the first matching selector
// with non-empty content.
func extractTextFromCandidates(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		if el := doc.Find(selector).First(); el.Length() > 0 {
			if text := normalizeSpace(el.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// extractLabeledValue finds an element whose own text contains one of the
// label phrases and returns the text of its next sibling.
func extractLabeledValue(doc *goquery.Document, labels []string) string {
	var value string
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		own := strings.ToLower(ownText(s))
		if own == "" {
			return true
		}
		for _, label := range labels {
			if !strings.Contains(own, strings.ToLower(label)) {
				continue
			}
			if sibling := s.Next(); sibling.Length() > 0 {
				if text := normalizeSpace(sibling.Text()); text != "" {
					value = text
					return false
				}
			}
		}
		return true
	})
	return value
}

// ownText is the element's direct text content, excluding descendants.
func ownText(s *goquery.Selection) string {
	node := s.Get(0)
	if node == nil {
		return ""
	}
	var b strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

// extractKeyValuePairs collects label/value pairs from the two known layouts:
// row-based blocks under .listing-details and definition lists. First value
// wins on key collision.
func extractKeyValuePairs(doc *goquery.Document) map[string]string {
	pairs := make(map[string]string)

	doc.Find(".listing-details .row").Each(func(_ int, row *goquery.Selection) {
		label := normalizeSpace(row.Find(".label, .detail-label").First().Text())
		value := normalizeSpace(row.Find(".value, .detail-value").First().Text())
		if label != "" && value != "" {
			if _, ok := pairs[label]; !ok {
				pairs[label] = value
			}
		}
	})

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dts := dl.Find("dt")
		dds := dl.Find("dd")
		n := dts.Length()
		if dds.Length() < n {
			n = dds.Length()
		}
		for i := 0; i < n; i++ {
			key := normalizeSpace(dts.Eq(i).Text())
			val := normalizeSpace(dds.Eq(i).Text())
			if key != "" && val != "" {
				if _, ok := pairs[key]; !ok {
					pairs[key] = val
				}
			}
		}
	})

	return pairs
}

// extractJSONLD collects every JSON-LD payload object on the page.
func extractJSONLD(doc *goquery.Document) []map[string]any {
	var payloads []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var single map[string]any
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			payloads = append(payloads, single)
			return
		}
		var list []map[string]any
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			payloads = append(payloads, list...)
		}
	})
	return payloads
}

func extractJSONLDDescription(payloads []map[string]any) string {
	for _, payload := range payloads {
		if desc, ok := payload["description"].(string); ok {
			if trimmed := strings.TrimSpace(desc); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// extractReasonFromText derives a reason-for-selling value from free text:
// the literal "reason for sale/selling" tail when present, else "Owner
// retiring" when a retiring keyword appears.
func extractReasonFromText(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	if start := strings.Index(lower, "reason for sale"); start != -1 {
		return strings.TrimSpace(text[start:])
	}
	if start := strings.Index(lower, "reason for selling"); start != -1 {
		return strings.TrimSpace(text[start:])
	}
	if strings.Contains(lower, "retiring") {
		return "Owner retiring"
	}
	return ""
}

func findKVValue(pairs map[string]string, keys ...string) string {
	for _, key := range keys {
		if val, ok := pairs[key]; ok {
			return val
		}
	}
	return ""
}

// parseYesNo maps free-text yes/no phrasing onto a three-state boolean.
func parseYesNo(value string) *bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "yes", "y", "included", "true":
		v := true
		return &v
	case "no", "n", "not included", "false":
		v := false
		return &v
	}
	return nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
