package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cryptojobs-notifier/pkg/jobs"
)

// MemoryBackend is an in-memory Backend for tests. Records are copied
// through JSON so callers never share state with the store, matching the
// serialization round-trip of the real backends.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[int64][]byte
}

// NewMemoryBackend creates an empty store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[int64][]byte)}
}

// Load returns the record for chatID, or ErrNotFound.
func (b *MemoryBackend) Load(_ context.Context, chatID int64) (*jobs.Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.records[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	sub := &jobs.Subscriber{ChatID: chatID}
	if err := json.Unmarshal(data, sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscriber %d: %w", chatID, err)
	}
	return sub, nil
}

// Save stores a serialized copy of the record.
func (b *MemoryBackend) Save(_ context.Context, sub *jobs.Subscriber) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscriber %d: %w", sub.ChatID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[sub.ChatID] = data
	return nil
}

// List returns every record.
func (b *MemoryBackend) List(ctx context.Context) ([]*jobs.Subscriber, error) {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	subs := make([]*jobs.Subscriber, 0, len(ids))
	for _, id := range ids {
		sub, err := b.Load(ctx, id)
		if err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Close is a no-op.
func (*MemoryBackend) Close() error { return nil }

// MemorySeen is an in-memory SeenStore for tests.
type MemorySeen struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemorySeen creates an empty seen-set.
func NewMemorySeen() *MemorySeen {
	return &MemorySeen{ids: make(map[string]struct{})}
}

// HasSeen reports whether id was marked.
func (s *MemorySeen) HasSeen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

// MarkSeen records id; idempotent.
func (s *MemorySeen) MarkSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
	return nil
}

// Close is a no-op.
func (*MemorySeen) Close() error { return nil }
