// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process
// refuses to start.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultFeedURL = "https://api.cryptojobslist.com/rss/Remote.xml"

// Config holds all runtime configuration for the notifier.
type Config struct {
	TelegramToken        string
	FeedURL              string
	CheckIntervalMinutes int
	RedisURL             string // When set, subscribers and seen-state live in Redis
	Bucket               string // When set (and Redis is not), subscribers live in a GCS bucket
	DataDir              string // Local fallback for file storage
	Port                 string // Operational HTTP endpoints
}

// Load reads a .env file if present, then the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	feedURL := os.Getenv("RSS_FEED_URL")
	if feedURL == "" {
		feedURL = defaultFeedURL
	}

	interval := 5
	if s := os.Getenv("CHECK_INTERVAL"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("CHECK_INTERVAL must be a positive integer of minutes, got %q", s)
		}
		interval = v
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		TelegramToken:        token,
		FeedURL:              feedURL,
		CheckIntervalMinutes: interval,
		RedisURL:             os.Getenv("REDIS_URL"),
		Bucket:               os.Getenv("STORAGE_BUCKET"),
		DataDir:              dataDir,
		Port:                 port,
	}, nil
}
