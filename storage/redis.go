package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptojobs-notifier/pkg/jobs"
)

const (
	subscriberKeyPrefix = "cryptojobs:subscriber:"
	seenKeyPrefix       = "cryptojobs:seen:"

	// seenTTL matches the feed's practical lifetime: a posting older than
	// this no longer appears in the feed, so forgetting it cannot cause a
	// duplicate notification.
	seenTTL = 30 * 24 * time.Hour
)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisBackend stores each subscriber record as a JSON value under its own
// key. Redis SET is atomic per key, so concurrent readers never observe a
// half-written record.
type RedisBackend struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBackend wraps a connected client.
func NewRedisBackend(client *redis.Client, logger *slog.Logger) *RedisBackend {
	return &RedisBackend{client: client, logger: logger}
}

func subscriberKey(chatID int64) string {
	return subscriberKeyPrefix + strconv.FormatInt(chatID, 10)
}

// Load returns the record for chatID, or ErrNotFound.
func (b *RedisBackend) Load(ctx context.Context, chatID int64) (*jobs.Subscriber, error) {
	data, err := b.client.Get(ctx, subscriberKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get subscriber %d: %w", chatID, err)
	}

	sub := &jobs.Subscriber{ChatID: chatID}
	if err := json.Unmarshal(data, sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscriber %d: %w", chatID, err)
	}
	return sub, nil
}

// Save replaces the record under its key.
func (b *RedisBackend) Save(ctx context.Context, sub *jobs.Subscriber) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscriber %d: %w", sub.ChatID, err)
	}
	if err := b.client.Set(ctx, subscriberKey(sub.ChatID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set subscriber %d: %w", sub.ChatID, err)
	}
	return nil
}

// List scans the subscriber key space. Records that fail to load or parse
// are skipped with a warning.
func (b *RedisBackend) List(ctx context.Context) ([]*jobs.Subscriber, error) {
	var subs []*jobs.Subscriber

	iter := b.client.Scan(ctx, 0, subscriberKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		chatID, err := strconv.ParseInt(strings.TrimPrefix(key, subscriberKeyPrefix), 10, 64)
		if err != nil {
			b.logger.Warn("Skipping subscriber key with bad suffix", "key", key, "error", err)
			continue
		}
		sub, err := b.Load(ctx, chatID)
		if err != nil {
			b.logger.Warn("Skipping unreadable subscriber record", "chat_id", chatID, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan subscriber keys: %w", err)
	}
	return subs, nil
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// RedisSeen tracks delivered posting IDs as TTL'd keys, so retention is
// time-based and the set never needs explicit pruning.
type RedisSeen struct {
	client *redis.Client
}

// NewRedisSeen wraps a connected client.
func NewRedisSeen(client *redis.Client) *RedisSeen {
	return &RedisSeen{client: client}
}

// HasSeen reports whether id has already been delivered.
func (s *RedisSeen) HasSeen(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, seenKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists seen %q: %w", id, err)
	}
	return n > 0, nil
}

// MarkSeen records id with the retention TTL. Re-marking only refreshes the
// TTL, which is harmless.
func (s *RedisSeen) MarkSeen(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, seenKeyPrefix+id, "1", seenTTL).Err(); err != nil {
		return fmt.Errorf("redis set seen %q: %w", id, err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by the subscriber backend.
func (*RedisSeen) Close() error { return nil }
