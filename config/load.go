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

// Load builds a Config from defaults, an optional YAML file and the
// environment. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if value, ok := EnvString("DBNAME"); ok {
		c.Database.DBName = value
	}
	if value, ok := EnvString("DBUSER"); ok {
		c.Database.User = value
	}
	if value, ok := EnvString("DBPASSWORD"); ok {
		c.Database.Password = value
	}
	if value, ok := EnvString("DBHOST"); ok {
		c.Database.Host = value
	}
	if value, ok, err := EnvInt("DBPORT"); err != nil {
		return fmt.Errorf("invalid DBPORT: %w", err)
	} else if ok {
		c.Database.Port = value
	}
	if value, ok := EnvString("DBSSLMODE"); ok {
		c.Database.SSLMode = value
	}

	if value, ok := EnvString("SCRAPER_LISTING_URL"); ok {
		c.ListingURL = value
	}
	if value, ok, err := EnvInt("SCRAPER_PAGES"); err != nil {
		return fmt.Errorf("invalid SCRAPER_PAGES: %w", err)
	} else if ok {
		c.MaxPages = value
	}
	if value, ok, err := EnvDuration("SCRAPER_RETRY_DELAY"); err != nil {
		return fmt.Errorf("invalid SCRAPER_RETRY_DELAY: %w", err)
	} else if ok {
		c.Retry.Delay = value
	}
	if value, ok := EnvString("SCRAPER_OUTPUT"); ok {
		c.OutputFile = value
	}
	if value, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, err
	}
	return parsed, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, err
	}
	return parsed, true, nil
}
