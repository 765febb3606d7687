package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	ResultsSource     string
	AdvertisersSource string
	LocationsSource   string

	ListenAddr     string
	ViewsConfig    string
	ChartCacheSize int

	FetchTimeout time.Duration
	MaxRetries   int

	StoreDriver      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string

	ExportDir      string
	SnapshotDir    string
	ChromeBin      string
	MaxConcurrency int
	RateLimitMs    int

	LogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		ResultsSource:     getEnv("RESULTS_CSV", "results.csv"),
		AdvertisersSource: getEnv("ADVERTISERS_CSV", "advertisers.csv"),
		LocationsSource:   getEnv("LOCATIONS_CSV", "locations.csv"),

		ListenAddr:     getEnv("LISTEN_ADDR", ":8501"),
		ViewsConfig:    getEnv("VIEWS_CONFIG", ""),
		ChartCacheSize: getEnvInt("CHART_CACHE_SIZE", 64),

		FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 30)) * time.Second,
		MaxRetries:   getEnvInt("MAX_RETRIES", 3),

		StoreDriver:      getEnv("STORE_DRIVER", "postgres"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "campaign"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "campaign123"),
		PostgresDB:       getEnv("POSTGRES_DB", "campaign_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./output/campaign.db"),

		ExportDir:      getEnv("EXPORT_DIR", "./output"),
		SnapshotDir:    getEnv("SNAPSHOT_DIR", "./output/snapshots"),
		ChromeBin:      getEnv("CHROME_BIN", ""),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 250),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ResultsSource) == "" {
		return fmt.Errorf("results source cannot be empty")
	}
	if strings.TrimSpace(c.AdvertisersSource) == "" {
		return fmt.Errorf("advertisers source cannot be empty")
	}
	if strings.TrimSpace(c.LocationsSource) == "" {
		return fmt.Errorf("locations source cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.ChartCacheSize <= 0 {
		return fmt.Errorf("chart cache size must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "sqlite" {
		return fmt.Errorf("store driver must be postgres or sqlite")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if c.RateLimitMs < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// StoreDSN returns the data source name for the configured store driver.
func (c *Config) StoreDSN() string {
	if c.StoreDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DSN()
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
