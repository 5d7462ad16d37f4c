package fetcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// fetchBrowser navigates a headless browser to the URL and returns the
// rendered document. Each navigation gets its own tab; when a residential
// proxy is configured a fresh session suffix is appended to the proxy
// username so every navigation exits from a new IP.
func (f *Fetcher) fetchBrowser(ctx context.Context, url string) (string, *Provenance, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)

	if bin := f.findChromeBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}
	if proxy := f.buildProxyURL(); proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(4*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", nil, fmt.Errorf("browser fetch %s: %w", url, err)
	}

	return html, &Provenance{Source: "browser", FetchedAt: time.Now()}, nil
}

// buildProxyURL assembles the residential proxy address from configuration.
// The unlocker zone overrides the zone segment of the username when set, and
// a random session suffix rotates the exit IP per navigation.
func (f *Fetcher) buildProxyURL() string {
	host, port := f.cfg.ProxyHost, f.cfg.ProxyPort
	if host == "" || port == "" {
		return ""
	}

	username := f.cfg.ProxyUsername
	if username == "" {
		return fmt.Sprintf("http://%s:%s", host, port)
	}
	username = applyZoneOverride(username, f.cfg.UnlockerZone)
	username += "-session-" + randomSessionID()

	return fmt.Sprintf("http://%s:%s@%s:%s", username, f.cfg.ProxyPassword, host, port)
}

// applyZoneOverride replaces the zone segment of a Bright Data username
// ("user-zone-xxx[-rest]") with the configured unlocker zone.
func applyZoneOverride(username, zone string) string {
	if zone == "" {
		return username
	}

	const marker = "-zone-"
	idx := strings.Index(username, marker)
	if idx == -1 {
		return username + marker + zone
	}

	prefix := username[:idx]
	rest := username[idx+len(marker):]
	tail := ""
	if cut := strings.Index(rest, "-"); cut != -1 {
		tail = rest[cut:]
	}
	return prefix + marker + zone + tail
}

func randomSessionID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// findChromeBinary locates a Chrome/Chromium binary, preferring the
// configured path.
func (f *Fetcher) findChromeBinary() string {
	if f.cfg.ChromeBin != "" {
		return f.cfg.ChromeBin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
