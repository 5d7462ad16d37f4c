package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"bizbuysell-scraper/config"
	"bizbuysell-scraper/utils"
)

// Provenance records which retrieval strategy produced the markup.
type Provenance struct {
	Source     string // "unlocker", "direct", "browser"
	StatusCode int
	FetchedAt  time.Time
}

// Fetcher retrieves raw markup for a URL. It performs no retries itself;
// retry policy belongs to the caller.
type Fetcher struct {
	cfg     *config.Config
	logger  *utils.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Fetcher with a shared rate limiter across all strategies.
func New(cfg *config.Config, logger *utils.Logger) *Fetcher {
	interval := time.Duration(cfg.RateLimitMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Fetcher{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Fetch retrieves the page at url within timeout. Strategy order: the
// unlocker relay when a token is configured, then direct GET, then the
// headless-browser fallback when enabled and direct fetch failed.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (string, *Provenance, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	if f.cfg.UnlockerEnabled() {
		return f.fetchUnlocker(ctx, url)
	}

	html, prov, err := f.fetchDirect(ctx, url)
	if err != nil && f.cfg.BrowserFallback {
		f.logger.Warn("[fetcher] Direct fetch failed for %s (%v) — trying browser", url, err)
		return f.fetchBrowser(ctx, url)
	}
	return html, prov, err
}

// fetchDirect performs a plain GET with realistic browser navigation headers.
func (f *Fetcher) fetchDirect(ctx context.Context, url string) (string, *Provenance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	referer := f.cfg.BaseURL
	if url == f.cfg.BaseURL {
		referer = "https://www.google.com/"
	}

	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Referer", referer)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}

	return string(body), &Provenance{
		Source:     "direct",
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now(),
	}, nil
}

// fetchUnlocker posts the target URL to the Bright Data request API and
// receives the rendered markup back.
func (f *Fetcher) fetchUnlocker(ctx context.Context, url string) (string, *Provenance, error) {
	payload, err := json.Marshal(map[string]string{
		"zone":   f.cfg.UnlockerZone,
		"url":    url,
		"format": "raw",
	})
	if err != nil {
		return "", nil, fmt.Errorf("unlocker %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.UnlockerEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("unlocker %s: %w", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+f.cfg.UnlockerAPIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("unlocker %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("unlocker %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("unlocker %s: read body: %w", url, err)
	}

	return string(body), &Provenance{
		Source:     "unlocker",
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now(),
	}, nil
}
