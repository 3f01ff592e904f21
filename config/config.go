package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	ListingURL    string         `yaml:"listing_url"`
	MaxPages      int            `yaml:"max_pages"`
	Delay         time.Duration  `yaml:"delay"`
	RandomDelay   time.Duration  `yaml:"random_delay"`
	Timeout       time.Duration  `yaml:"timeout"`
	Retry         RetryConfig    `yaml:"retry"`
	DedupeMaxSize int            `yaml:"dedupe_max_size"`
	UserAgent     string         `yaml:"user_agent"`
	Accept        string         `yaml:"accept"`
	OutputFile    string         `yaml:"output_file"`
	OutputFormat  string         `yaml:"output_format"` // "", csv or json
	MetricsAddr   string         `yaml:"metrics_addr"`
	Verbose       bool           `yaml:"verbose"`
	Database      DatabaseConfig `yaml:"database"`
}

// RetryConfig describes how failed fetches are retried. MaxAttempts of zero
// retries until the request succeeds.
type RetryConfig struct {
	MaxAttempts uint          `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Backoff     string        `yaml:"backoff"` // fixed or exponential
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the lib/pq keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// DefaultConfig returns defaults for the Minsk notebooks listing.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:  "https://www.kufar.by/l/r~minsk/noutbuki",
		MaxPages:    0,
		Delay:       0,
		RandomDelay: 0,
		Timeout:     10 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 0,
			Delay:       200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Backoff:     "fixed",
		},
		DedupeMaxSize: 10000,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
		Accept:        "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		OutputFile:    "",
		OutputFormat:  "",
		MetricsAddr:   "",
		Verbose:       false,
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("listing URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.ListingURL)
	if err != nil {
		return fmt.Errorf("invalid listing URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("listing URL must include a host")
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Retry.Delay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry max delay cannot be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.Delay > c.Retry.MaxDelay {
		return fmt.Errorf("retry delay (%s) cannot exceed retry max delay (%s)", c.Retry.Delay, c.Retry.MaxDelay)
	}
	if c.Retry.Backoff != "fixed" && c.Retry.Backoff != "exponential" {
		return fmt.Errorf("retry backoff must be fixed or exponential")
	}
	if c.Retry.Backoff == "exponential" && c.Retry.MaxDelay <= 0 {
		return fmt.Errorf("retry max delay is required for exponential backoff")
	}
	if c.DedupeMaxSize < 0 {
		return fmt.Errorf("dedupe max size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.OutputFormat != "" && c.OutputFormat != "csv" && c.OutputFormat != "json" {
		return fmt.Errorf("output format must be csv or json")
	}
	if c.OutputFormat != "" && c.OutputFile == "" {
		return fmt.Errorf("output file is required when output format is set")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}

	return nil
}
