// Package main runs the CryptoJobsList notifier: it polls the RSS feed on a
// schedule and pushes matching postings to Telegram subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"

	"cryptojobs-notifier/bot"
	"cryptojobs-notifier/config"
	"cryptojobs-notifier/feed"
	"cryptojobs-notifier/poll"
	"cryptojobs-notifier/server"
	"cryptojobs-notifier/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, seen, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := seen.Close(); err != nil {
			logger.Warn("Seen store close failed", "error", err)
		}
		if err := backend.Close(); err != nil {
			logger.Warn("Storage close failed", "error", err)
		}
	}()

	subs := storage.NewSubscribers(backend, logger)
	feedClient := feed.New(cfg.FeedURL, &http.Client{Timeout: 30 * time.Second}, logger)

	tgBot, err := bot.New(cfg.TelegramToken, subs, feedClient, seen, logger)
	if err != nil {
		return fmt.Errorf("start bot: %w", err)
	}

	pipeline := poll.New(feedClient, subs, seen, tgBot, logger)

	scheduler := cron.New()
	spec := fmt.Sprintf("@every %dm", cfg.CheckIntervalMinutes)
	if _, err := scheduler.AddFunc(spec, func() {
		if err := pipeline.CheckAll(ctx); err != nil {
			logger.Error("Polling cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule polling: %w", err)
	}
	scheduler.Start()
	logger.Info("Scheduler started", "spec", spec, "feed_url", cfg.FeedURL)

	// First cycle runs immediately so a fresh deploy does not sit idle
	// until the first tick.
	go func() {
		if err := pipeline.CheckAll(ctx); err != nil {
			logger.Error("Initial polling cycle failed", "error", err)
		}
	}()

	go func() {
		if err := server.New(pipeline, logger).ListenAndServe(cfg.Port); err != nil {
			logger.Error("HTTP server stopped", "error", err)
		}
	}()

	tgBot.Run(ctx)

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("Timed out waiting for the running cycle to finish")
	}
	logger.Info("Shutdown complete")
	return nil
}

// openStorage picks the persistence pair from the configuration: Redis when
// REDIS_URL is set, a GCS bucket plus local seen-state when STORAGE_BUCKET
// is set, and plain local files otherwise.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, storage.SeenStore, error) {
	if cfg.RedisURL != "" {
		client, err := storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("Using Redis storage")
		return storage.NewRedisBackend(client, logger), storage.NewRedisSeen(client), nil
	}

	seen, err := storage.NewFileSeen(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open seen store: %w", err)
	}

	if cfg.Bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using bucket storage", "bucket", cfg.Bucket)
		return storage.NewBucketBackend(client, cfg.Bucket, logger), seen, nil
	}

	backend, err := storage.NewFileBackend(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open file storage: %w", err)
	}
	logger.Info("Using local file storage", "data_dir", cfg.DataDir)
	return backend, seen, nil
}
