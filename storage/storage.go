// Package storage handles persistence of subscribers and seen postings.
//
// Subscriber records live behind the Backend interface, which has three
// interchangeable implementations: a local file holding the whole table as
// one JSON document, a Redis key per subscriber, and a Cloud Storage object
// per subscriber. All three produce identical observable behavior through
// the Subscribers wrapper.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cryptojobs-notifier/pkg/jobs"
)

// ErrNotFound indicates a subscriber record does not exist.
var ErrNotFound = errors.New("storage: subscriber not found")

// maxFavorites bounds the saved-postings list per subscriber.
const maxFavorites = 50

// Backend persists individual subscriber records.
type Backend interface {
	// Load returns the record for chatID, or ErrNotFound.
	Load(ctx context.Context, chatID int64) (*jobs.Subscriber, error)
	// Save writes the record atomically, replacing any previous version.
	Save(ctx context.Context, sub *jobs.Subscriber) error
	// List returns every readable record. Unreadable records are skipped,
	// not returned as an error, so one corrupt entry never hides the rest.
	List(ctx context.Context) ([]*jobs.Subscriber, error)
	Close() error
}

// SeenStore tracks posting identifiers that have already been delivered.
type SeenStore interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	// MarkSeen records id as delivered. Marking an already-seen id is a no-op.
	MarkSeen(ctx context.Context, id string) error
	Close() error
}

// Subscribers provides the subscriber-store contract on top of a Backend.
// Mutations are read-modify-write cycles serialized per subscriber, so a
// concurrent reader never observes a half-applied record.
type Subscribers struct {
	backend Backend
	logger  *slog.Logger
	mu      sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewSubscribers wraps a backend.
func NewSubscribers(backend Backend, logger *slog.Logger) *Subscribers {
	return &Subscribers{
		backend: backend,
		logger:  logger,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Get returns the record for chatID, or ErrNotFound.
func (s *Subscribers) Get(ctx context.Context, chatID int64) (*jobs.Subscriber, error) {
	return s.backend.Load(ctx, chatID)
}

// Upsert fully replaces the record, last write wins.
func (s *Subscribers) Upsert(ctx context.Context, sub *jobs.Subscriber) error {
	lock := s.lockFor(sub.ChatID)
	lock.Lock()
	defer lock.Unlock()
	return s.backend.Save(ctx, sub)
}

// ListActive returns every subscriber with the subscribed flag set.
func (s *Subscribers) ListActive(ctx context.Context) ([]*jobs.Subscriber, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	active := make([]*jobs.Subscriber, 0, len(all))
	for _, sub := range all {
		if sub.Subscribed {
			active = append(active, sub)
		}
	}
	return active, nil
}

// Subscribe activates chatID, creating the record on first contact.
// Re-subscribing is idempotent and keeps previous filters and favorites.
func (s *Subscribers) Subscribe(ctx context.Context, chatID int64) (*jobs.Subscriber, error) {
	var out *jobs.Subscriber
	err := s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		sub.Subscribed = true
		out = sub
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Subscriber activated", "chat_id", chatID)
	return out, nil
}

// Unsubscribe deactivates chatID. The record is retained.
func (s *Subscribers) Unsubscribe(ctx context.Context, chatID int64) error {
	err := s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		sub.Subscribed = false
	})
	if err != nil {
		return err
	}
	s.logger.Info("Subscriber deactivated", "chat_id", chatID)
	return nil
}

// SetFilter replaces the whole filter for chatID.
func (s *Subscribers) SetFilter(ctx context.Context, chatID int64, f jobs.Filter) error {
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		sub.Filter = f
	})
}

// AddJobType adds one job type to the filter. Duplicates are ignored.
func (s *Subscribers) AddJobType(ctx context.Context, chatID int64, jt jobs.JobType) error {
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		if !sub.HasJobType(jt) {
			sub.JobTypes = append(sub.JobTypes, jt)
		}
	})
}

// RemoveJobType removes one job type from the filter.
// Removing an entry that is not present is a no-op, not an error.
func (s *Subscribers) RemoveJobType(ctx context.Context, chatID int64, jt jobs.JobType) error {
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		kept := sub.JobTypes[:0]
		for _, t := range sub.JobTypes {
			if t != jt {
				kept = append(kept, t)
			}
		}
		sub.JobTypes = kept
	})
}

// AddKeyword adds one keyword to the filter, trimmed. Duplicates are
// ignored case-insensitively.
func (s *Subscribers) AddKeyword(ctx context.Context, chatID int64, kw string) error {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return errors.New("empty keyword")
	}
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		if !sub.HasKeyword(kw) {
			sub.Keywords = append(sub.Keywords, kw)
		}
	})
}

// RemoveKeyword removes one keyword from the filter, case-insensitively.
// Removing an entry that is not present is a no-op, not an error.
func (s *Subscribers) RemoveKeyword(ctx context.Context, chatID int64, kw string) error {
	kw = strings.TrimSpace(kw)
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		kept := sub.Keywords[:0]
		for _, k := range sub.Keywords {
			if !strings.EqualFold(k, kw) {
				kept = append(kept, k)
			}
		}
		sub.Keywords = kept
	})
}

// ClearFilters removes every job type and keyword for chatID.
func (s *Subscribers) ClearFilters(ctx context.Context, chatID int64) error {
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		sub.Filter = jobs.Filter{}
	})
}

// AddFavorite saves a posting ID for chatID. The list is bounded; the
// oldest entry is dropped once the cap is exceeded.
func (s *Subscribers) AddFavorite(ctx context.Context, chatID int64, postingID string) error {
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		for _, id := range sub.Favorites {
			if id == postingID {
				return
			}
		}
		sub.Favorites = append(sub.Favorites, postingID)
		if len(sub.Favorites) > maxFavorites {
			sub.Favorites = sub.Favorites[len(sub.Favorites)-maxFavorites:]
		}
	})
}

// RemoveFavorite deletes a saved posting ID. Missing entries are a no-op.
func (s *Subscribers) RemoveFavorite(ctx context.Context, chatID int64, postingID string) error {
	return s.modify(ctx, chatID, func(sub *jobs.Subscriber) {
		kept := sub.Favorites[:0]
		for _, id := range sub.Favorites {
			if id != postingID {
				kept = append(kept, id)
			}
		}
		sub.Favorites = kept
	})
}

// modify runs a read-modify-write cycle for chatID under its lock.
// A missing record starts from a fresh inactive subscriber so filter edits
// made before the first /start are not lost.
func (s *Subscribers) modify(ctx context.Context, chatID int64, fn func(*jobs.Subscriber)) error {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := s.backend.Load(ctx, chatID)
	switch {
	case errors.Is(err, ErrNotFound):
		sub = &jobs.Subscriber{ChatID: chatID}
	case err != nil:
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}

	fn(sub)

	if err := s.backend.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscriber %d: %w", chatID, err)
	}
	return nil
}

func (s *Subscribers) lockFor(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[chatID] = lock
	}
	return lock
}
