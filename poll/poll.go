// Package poll runs the per-cycle notification pipeline: classify incoming
// postings, drop already-seen ones, match the rest against each active
// subscriber's filter, and hand the results to the messaging collaborator.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptojobs-notifier/classify"
	"cryptojobs-notifier/feed"
	"cryptojobs-notifier/filter"
	"cryptojobs-notifier/pkg/jobs"
)

// Feed fetches raw postings.
type Feed interface {
	Fetch(ctx context.Context) ([]feed.Item, error)
}

// Subscribers lists subscribers eligible for notification.
type Subscribers interface {
	ListActive(ctx context.Context) ([]*jobs.Subscriber, error)
}

// Seen tracks delivered posting IDs.
type Seen interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) error
}

// Notifier delivers matched postings to one subscriber.
type Notifier interface {
	Deliver(ctx context.Context, sub *jobs.Subscriber, postings []jobs.Posting) error
}

// Deliverable is one (subscriber, posting) pair ready for delivery.
type Deliverable struct {
	Subscriber *jobs.Subscriber
	Posting    jobs.Posting
}

// Pipeline orchestrates one polling cycle.
type Pipeline struct {
	feed        Feed
	subscribers Subscribers
	seen        Seen
	notifier    Notifier
	logger      *slog.Logger
}

// New creates a pipeline.
func New(f Feed, subscribers Subscribers, seen Seen, notifier Notifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		feed:        f,
		subscribers: subscribers,
		seen:        seen,
		notifier:    notifier,
		logger:      logger,
	}
}

// CheckAll runs one full cycle: fetch, evaluate, deliver, mark seen.
// A fetch failure aborts before any state is touched; anything after that
// is best-effort per subscriber and per posting.
func (p *Pipeline) CheckAll(ctx context.Context) error {
	start := time.Now()

	items, err := p.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}

	deliverables, unseen, err := p.evaluate(ctx, items)
	if err != nil {
		return err
	}

	// Group per subscriber so each chat gets one batch per cycle.
	order := make([]*jobs.Subscriber, 0)
	batches := make(map[int64][]jobs.Posting)
	for _, d := range deliverables {
		if _, ok := batches[d.Subscriber.ChatID]; !ok {
			order = append(order, d.Subscriber)
		}
		batches[d.Subscriber.ChatID] = append(batches[d.Subscriber.ChatID], d.Posting)
	}

	var delivered, failed int
	for _, sub := range order {
		if err := p.notifier.Deliver(ctx, sub, batches[sub.ChatID]); err != nil {
			p.logger.Warn("Delivery failed", "chat_id", sub.ChatID, "error", err)
			failed++
			continue
		}
		delivered++
	}

	p.markSeen(ctx, unseen)

	p.logger.Info("Cycle completed",
		"feed_items", len(items),
		"new_postings", len(unseen),
		"deliverables", len(deliverables),
		"subscribers_notified", delivered,
		"subscribers_failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

// Run computes and returns the cycle's deliverables for a given batch of
// raw items, then marks the unseen postings as seen. It is CheckAll without
// the fetch and without delivery; a second Run over the same batch yields
// nothing.
func (p *Pipeline) Run(ctx context.Context, items []feed.Item) ([]Deliverable, error) {
	deliverables, unseen, err := p.evaluate(ctx, items)
	if err != nil {
		return nil, err
	}
	p.markSeen(ctx, unseen)
	return deliverables, nil
}

// markSeen records every posting once. Seen-state is per posting, not per
// delivery: a posting matched by many subscribers is still marked a single
// time, and a failed mark only risks a duplicate next cycle.
func (p *Pipeline) markSeen(ctx context.Context, unseen []jobs.Posting) {
	for _, posting := range unseen {
		if err := p.seen.MarkSeen(ctx, posting.ID); err != nil {
			p.logger.Warn("Failed to mark posting seen", "posting_id", posting.ID, "error", err)
		}
	}
}

// Postings converts feed items into classified postings, dropping items
// without a usable identifier or title.
func Postings(items []feed.Item, logger *slog.Logger) []jobs.Posting {
	postings := make([]jobs.Posting, 0, len(items))
	for _, item := range items {
		if item.GUID == "" || item.Title == "" {
			logger.Warn("Skipping malformed feed item", "guid", item.GUID, "title", item.Title, "link", item.Link)
			continue
		}
		postings = append(postings, jobs.Posting{
			Published:   item.Published,
			ID:          item.GUID,
			Title:       item.Title,
			Company:     item.Company,
			Link:        item.Link,
			Description: item.Description,
			Type:        classify.Classify(item.Title, item.Description),
		})
	}
	return postings
}

func (p *Pipeline) evaluate(ctx context.Context, items []feed.Item) (deliverables []Deliverable, unseen []jobs.Posting, err error) {
	for _, posting := range Postings(items, p.logger) {
		seen, err := p.seen.HasSeen(ctx, posting.ID)
		if err != nil {
			// Treating an unreadable seen-state as "new" risks a duplicate
			// notification, which beats silently dropping a posting.
			p.logger.Warn("Seen lookup failed, treating posting as new", "posting_id", posting.ID, "error", err)
		}
		if seen {
			continue
		}
		unseen = append(unseen, posting)
	}

	if len(unseen) == 0 {
		return nil, nil, nil
	}

	subs, err := p.subscribers.ListActive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list active subscribers: %w", err)
	}

	for _, sub := range subs {
		for _, posting := range unseen {
			if filter.Matches(posting, sub.Filter) {
				deliverables = append(deliverables, Deliverable{Subscriber: sub, Posting: posting})
			}
		}
	}

	return deliverables, unseen, nil
}
