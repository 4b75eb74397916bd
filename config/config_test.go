package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("RSS_FEED_URL", "")
	t.Setenv("CHECK_INTERVAL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.TelegramToken)
	assert.Equal(t, defaultFeedURL, cfg.FeedURL)
	assert.Equal(t, 5, cfg.CheckIntervalMinutes)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.Bucket)
}

func TestLoadExplicitValues(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("RSS_FEED_URL", "https://example.com/feed.xml")
	t.Setenv("CHECK_INTERVAL", "15")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATA_DIR", "/var/lib/notifier")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/feed.xml", cfg.FeedURL)
	assert.Equal(t, 15, cfg.CheckIntervalMinutes)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "/var/lib/notifier", cfg.DataDir)
}

func TestLoadRejectsBadInterval(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	for _, bad := range []string{"0", "-3", "ten"} {
		t.Setenv("CHECK_INTERVAL", bad)
		_, err := Load()
		assert.Error(t, err, "interval %q", bad)
	}
}
