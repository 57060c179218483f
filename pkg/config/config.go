package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the listing engine.
type Config struct {
	Port string `yaml:"port"`

	// Database
	DBPath string `yaml:"db_path"`

	// Signal queue
	QueueDir         string `yaml:"queue_dir"`
	QueueMaxAttempts int    `yaml:"queue_max_attempts"`

	// Listing source
	ListingSourceURL string        `yaml:"listing_source_url"`
	DetectorInterval time.Duration `yaml:"detector_interval"`
	AnnouncementURL  string        `yaml:"announcement_url"`

	// Venue
	VenueBaseURL string `yaml:"venue_base_url"`

	// Supervisor
	SupervisorInterval time.Duration `yaml:"supervisor_interval"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`

	// Trade lifecycle
	SafetyBuffer  float64       `yaml:"safety_buffer"`
	MinNotional   float64       `yaml:"min_notional"`
	FillTimeout   time.Duration `yaml:"fill_timeout"`
	FillPollEvery time.Duration `yaml:"fill_poll_every"`
	MarkPollEvery time.Duration `yaml:"mark_poll_every"`

	// Circuit breaker
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`

	// Retry
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`

	// Auth
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads environment variables (optionally via .env) into Config.
// When CONFIG_FILE points at a YAML file, its values overlay the env defaults.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/listing.db"),
		QueueDir:           getEnv("QUEUE_DIR", "./data/queue"),
		QueueMaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		ListingSourceURL:   getEnv("LISTING_SOURCE_URL", "https://api.upbit.com/v1/market/all"),
		DetectorInterval:   getEnvDuration("DETECTOR_INTERVAL", 60*time.Second),
		AnnouncementURL:    getEnv("ANNOUNCEMENT_URL", ""),
		VenueBaseURL:       getEnv("VENUE_BASE_URL", "https://api.bitget.com"),
		SupervisorInterval: getEnvDuration("SUPERVISOR_INTERVAL", 30*time.Second),
		ShutdownGrace:      getEnvDuration("SHUTDOWN_GRACE", 30*time.Second),
		SafetyBuffer:       getEnvFloat("SAFETY_BUFFER", 0.95),
		MinNotional:        getEnvFloat("MIN_NOTIONAL", 5.0),
		FillTimeout:        getEnvDuration("FILL_TIMEOUT", 2*time.Minute),
		FillPollEvery:      getEnvDuration("FILL_POLL_EVERY", 2*time.Second),
		MarkPollEvery:      getEnvDuration("MARK_POLL_EVERY", 5*time.Second),
		BreakerThreshold:   getEnvInt("BREAKER_THRESHOLD", 3),
		BreakerTimeout:     getEnvDuration("BREAKER_TIMEOUT", 60*time.Second),
		RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
		JWTSecret:          getEnv("JWT_SECRET", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SafetyBuffer <= 0 || c.SafetyBuffer >= 1.0 {
		return fmt.Errorf("config: SAFETY_BUFFER must be in (0,1), got %v", c.SafetyBuffer)
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("config: QUEUE_MAX_ATTEMPTS must be >= 1, got %d", c.QueueMaxAttempts)
	}
	if c.DetectorInterval <= 0 {
		return fmt.Errorf("config: DETECTOR_INTERVAL must be positive, got %v", c.DetectorInterval)
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
