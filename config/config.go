package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL string

	SearchURL       string
	BaseURL         string
	DetailBatchSize int
	SearchTimeout   time.Duration
	DetailTimeout   time.Duration
	MaxConcurrency  int
	RateLimitMs     int
	MaxRetries      int

	// Daily schedule (24h clock).
	SearchHour    int
	SearchMinute  int
	DetailsHour   int
	DetailsMinute int

	// Fetch indirection. When the unlocker token is set the relay is tried
	// first; the browser fallback is used for pages direct fetch cannot render.
	UseWebUnlocker    bool
	UnlockerAPIToken  string
	UnlockerZone      string
	UnlockerEndpoint  string
	ProxyHost         string
	ProxyPort         string
	ProxyUsername     string
	ProxyPassword     string
	BrowserFallback   bool
	ChromeBin         string

	APIListenAddr string
	CSVOutputPath string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "./bizbuysell_listings.db"),

		SearchURL:       getEnv("SEARCH_URL", "https://www.bizbuysell.com/retiring-owner-businesses-for-sale/"),
		BaseURL:         getEnv("BASE_URL", "https://www.bizbuysell.com"),
		DetailBatchSize: getEnvInt("DETAIL_BATCH_SIZE", 25),
		SearchTimeout:   getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),
		DetailTimeout:   getEnvDuration("DETAIL_TIMEOUT", 90*time.Second),
		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 1),
		RateLimitMs:     getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),

		SearchHour:    getEnvInt("SEARCH_HOUR", 8),
		SearchMinute:  getEnvInt("SEARCH_MINUTE", 0),
		DetailsHour:   getEnvInt("DETAILS_HOUR", 8),
		DetailsMinute: getEnvInt("DETAILS_MINUTE", 30),

		UseWebUnlocker:   getEnvBool("BRIGHTDATA_USE_WEB_UNLOCKER", false),
		UnlockerAPIToken: getEnv("BRIGHTDATA_UNLOCKER_API_TOKEN", ""),
		UnlockerZone:     getEnv("BRIGHTDATA_UNLOCKER_ZONE", ""),
		UnlockerEndpoint: getEnv("BRIGHTDATA_UNLOCKER_ENDPOINT", "https://api.brightdata.com/request"),
		ProxyHost:        getEnv("BRIGHTDATA_PROXY_HOST", ""),
		ProxyPort:        getEnv("BRIGHTDATA_PROXY_PORT", ""),
		ProxyUsername:    getEnv("BRIGHTDATA_PROXY_USERNAME", ""),
		ProxyPassword:    getEnv("BRIGHTDATA_PROXY_PASSWORD", ""),
		BrowserFallback:  getEnvBool("BROWSER_FALLBACK", false),
		ChromeBin:        getEnv("CHROME_BIN", ""),

		APIListenAddr: getEnv("API_LISTEN_ADDR", ":8080"),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
	}
}

// UnlockerEnabled reports whether the unlocker relay should be tried first.
// A configured token enables the relay even without the explicit flag.
func (c *Config) UnlockerEnabled() bool {
	return c.UnlockerAPIToken != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
