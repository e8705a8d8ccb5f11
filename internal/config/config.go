// Package config holds the fetch session configuration value and the
// environment-driven configuration of the service and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/amazon-product-scraper/internal/identity"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Jobs     JobsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	Session           Session
	Country           string
	FetchMode         string
	ConcurrentWorkers int
	RequestsPerSecond float64
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type JobsConfig struct {
	Workers   int
	QueueSize int
	Retain    int
	Retention time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	FetchModeHTTP    = "http"
	FetchModeBrowser = "browser"
)

// Load reads the configuration from the environment. SCRAPER_SESSION may
// carry shorthand overrides which are applied last.
func Load() (*Config, error) {
	session := DefaultSession()
	delayMin := getDurationOrDefault("SCRAPER_DELAY_MIN", session.DelayMin)
	delayMax := getDurationOrDefault("SCRAPER_DELAY_MAX", session.DelayMax)
	maxRetries := getIntOrDefault("SCRAPER_MAX_RETRIES", session.MaxRetries)
	timeout := getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", session.RequestTimeout)
	impersonate := getEnvOrDefault("SCRAPER_IMPERSONATE", session.Impersonate)
	rotation := identity.Policy(getEnvOrDefault("SCRAPER_ROTATION", string(session.Rotation)))

	session = session.WithOverrides(Overrides{
		MaxRetries:     &maxRetries,
		RequestTimeout: &timeout,
		DelayMin:       &delayMin,
		DelayMax:       &delayMax,
		Impersonate:    &impersonate,
		Rotation:       &rotation,
		Proxies:        getStringSliceOrDefault("SCRAPER_PROXIES", nil),
	})

	if raw := os.Getenv("SCRAPER_SESSION"); raw != "" {
		o, err := ParseShorthand(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SCRAPER_SESSION: %w", err)
		}
		session = session.WithOverrides(o)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 8084),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			Session:           session,
			Country:           getEnvOrDefault("SCRAPER_COUNTRY", "com"),
			FetchMode:         getEnvOrDefault("SCRAPER_FETCH_MODE", FetchModeHTTP),
			ConcurrentWorkers: getIntOrDefault("SCRAPER_WORKERS", 2),
			RequestsPerSecond: getFloatOrDefault("SCRAPER_REQUESTS_PER_SECOND", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "amazon_products"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Size: getIntOrDefault("CACHE_SIZE", 2048),
			TTL:  getDurationOrDefault("CACHE_TTL", 15*time.Minute),
		},
		Jobs: JobsConfig{
			Workers:   getIntOrDefault("JOBS_WORKERS", 2),
			QueueSize: getIntOrDefault("JOBS_QUEUE_SIZE", 100),
			Retain:    getIntOrDefault("JOBS_RETAIN", 500),
			Retention: getDurationOrDefault("JOBS_RETENTION", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, &Error{Key: "PORT", Msg: fmt.Sprintf("invalid server port: %d", c.Server.Port)})
	}
	if err := c.Scraper.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Scraper.ConcurrentWorkers < 1 {
		errs = append(errs, &Error{Key: "SCRAPER_WORKERS", Msg: "at least 1 concurrent worker is required"})
	}
	if c.Scraper.RequestsPerSecond < 0 {
		errs = append(errs, &Error{Key: "SCRAPER_REQUESTS_PER_SECOND", Msg: "must not be negative"})
	}
	if !urlnorm.KnownSuffix(c.Scraper.Country) {
		errs = append(errs, &Error{Key: "SCRAPER_COUNTRY", Msg: fmt.Sprintf("unknown Amazon storefront %q", c.Scraper.Country)})
	}
	switch c.Scraper.FetchMode {
	case FetchModeHTTP, FetchModeBrowser:
	default:
		errs = append(errs, &Error{Key: "SCRAPER_FETCH_MODE", Msg: fmt.Sprintf("must be %q or %q", FetchModeHTTP, FetchModeBrowser)})
	}
	if c.Database.Enabled && c.Database.Name == "" {
		errs = append(errs, &Error{Key: "DB_NAME", Msg: "database name is required"})
	}
	if c.Cache.Size < 0 {
		errs = append(errs, &Error{Key: "CACHE_SIZE", Msg: "must not be negative"})
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, &Error{Key: "JOBS_WORKERS", Msg: "at least 1 job worker is required"})
	}

	return errors.Join(errs...)
}

// DSN builds the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultValue
}
