package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"cryptojobs-notifier/pkg/jobs"
)

const bucketObjectPrefix = "subscriber-"

// BucketBackend stores one JSON object per subscriber in a Cloud Storage
// bucket. Object writes are atomic, which gives the same per-record
// replacement guarantee as the other backends.
type BucketBackend struct {
	client *gcs.Client
	bucket string
	logger *slog.Logger
}

// NewBucketBackend wraps an initialized client.
func NewBucketBackend(client *gcs.Client, bucket string, logger *slog.Logger) *BucketBackend {
	return &BucketBackend{client: client, bucket: bucket, logger: logger}
}

func bucketObjectKey(chatID int64) string {
	return fmt.Sprintf("%s%d.json", bucketObjectPrefix, chatID)
}

// Load returns the record for chatID, or ErrNotFound.
func (b *BucketBackend) Load(ctx context.Context, chatID int64) (*jobs.Subscriber, error) {
	key := bucketObjectKey(chatID)

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, gcs.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}

	sub := &jobs.Subscriber{ChatID: chatID}
	if err := json.Unmarshal(data, sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscriber %d: %w", chatID, err)
	}
	return sub, nil
}

// Save replaces the record's object.
func (b *BucketBackend) Save(ctx context.Context, sub *jobs.Subscriber) error {
	key := bucketObjectKey(sub.ChatID)

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriber %d: %w", sub.ChatID, err)
	}

	err = retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	b.logger.Debug("Subscriber saved", "key", key, "chat_id", sub.ChatID)
	return nil
}

// List iterates the subscriber object prefix. Unreadable objects are
// skipped with a warning.
func (b *BucketBackend) List(ctx context.Context) ([]*jobs.Subscriber, error) {
	var subs []*jobs.Subscriber

	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: bucketObjectPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(attrs.Name, bucketObjectPrefix), ".json")
		chatID, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			b.logger.Warn("Skipping object with bad name", "object", attrs.Name, "error", err)
			continue
		}

		sub, err := b.Load(ctx, chatID)
		if err != nil {
			b.logger.Warn("Skipping unreadable subscriber object", "object", attrs.Name, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Close closes the underlying client.
func (b *BucketBackend) Close() error {
	return b.client.Close()
}
