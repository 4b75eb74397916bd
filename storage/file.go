package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"cryptojobs-notifier/pkg/jobs"
)

const (
	subscribersFile = "subscribers.json"
	seenFile        = "seen_jobs.json"

	// maxSeenEntries bounds the seen file. Far beyond one polling window:
	// at the default 5-minute interval this covers weeks of feed output.
	maxSeenEntries = 5000
)

// FileBackend keeps the whole subscriber table in one JSON document and
// rewrites it atomically (write-temp-then-rename) on every mutation.
type FileBackend struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileBackend creates the data directory if needed.
func NewFileBackend(dataDir string, logger *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileBackend{
		path:   filepath.Join(dataDir, subscribersFile),
		logger: logger,
	}, nil
}

// Load returns the record for chatID, or ErrNotFound.
func (b *FileBackend) Load(_ context.Context, chatID int64) (*jobs.Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, err := b.readTable()
	if err != nil {
		return nil, err
	}

	raw, ok := table[strconv.FormatInt(chatID, 10)]
	if !ok {
		return nil, ErrNotFound
	}

	sub := &jobs.Subscriber{ChatID: chatID}
	if err := json.Unmarshal(raw, sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscriber %d: %w", chatID, err)
	}
	return sub, nil
}

// Save rewrites the whole document with the record replaced.
func (b *FileBackend) Save(_ context.Context, sub *jobs.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, err := b.readTable()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscriber %d: %w", sub.ChatID, err)
	}
	table[strconv.FormatInt(sub.ChatID, 10)] = raw

	return writeFileAtomic(b.path, table)
}

// List returns every readable record; corrupt entries are skipped with a
// warning so one bad record never hides the rest of the table.
func (b *FileBackend) List(_ context.Context) ([]*jobs.Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, err := b.readTable()
	if err != nil {
		return nil, err
	}

	subs := make([]*jobs.Subscriber, 0, len(table))
	for key, raw := range table {
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			b.logger.Warn("Skipping subscriber entry with bad key", "key", key, "error", err)
			continue
		}
		sub := &jobs.Subscriber{ChatID: chatID}
		if err := json.Unmarshal(raw, sub); err != nil {
			b.logger.Warn("Skipping unreadable subscriber entry", "chat_id", chatID, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Close is a no-op for the file backend.
func (*FileBackend) Close() error { return nil }

// readTable loads the document as raw per-subscriber records. Caller holds mu.
func (b *FileBackend) readTable() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriber file: %w", err)
	}

	table := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse subscriber file: %w", err)
	}
	return table, nil
}

// writeFileAtomic marshals v and replaces path with a rename so a crash
// mid-write never leaves a truncated document behind.
func writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// seenEntry is one delivered posting ID with its insertion time.
type seenEntry struct {
	ID   string    `json:"id"`
	Seen time.Time `json:"seen"`
}

// FileSeen is a file-backed seen-set with an in-memory index. Retention is
// count-based: only the most recent maxSeenEntries identifiers are kept.
type FileSeen struct {
	path   string
	logger *slog.Logger
	limit  int
	mu     sync.Mutex
	ids    mapset.Set[string]
	order  []seenEntry // insertion order, oldest first
}

// NewFileSeen loads any existing seen file; an unreadable file starts empty
// rather than failing (re-notification is the acceptable failure mode).
func NewFileSeen(dataDir string, logger *slog.Logger) (*FileSeen, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &FileSeen{
		path:   filepath.Join(dataDir, seenFile),
		logger: logger,
		limit:  maxSeenEntries,
		ids:    mapset.NewSet[string](),
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		logger.Warn("Seen file unreadable, starting empty", "path", s.path, "error", err)
		return s, nil
	}

	var entries []seenEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("Seen file corrupt, starting empty", "path", s.path, "error", err)
		return s, nil
	}
	for _, e := range entries {
		if s.ids.Add(e.ID) {
			s.order = append(s.order, e)
		}
	}
	logger.Info("Seen postings loaded", "count", s.ids.Cardinality())
	return s, nil
}

// HasSeen reports whether id has already been delivered.
func (s *FileSeen) HasSeen(_ context.Context, id string) (bool, error) {
	return s.ids.Contains(id), nil
}

// MarkSeen records id. Marking twice changes nothing and skips the disk write.
func (s *FileSeen) MarkSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ids.Add(id) {
		return nil
	}
	s.order = append(s.order, seenEntry{ID: id, Seen: time.Now().UTC()})

	if len(s.order) > s.limit {
		drop := len(s.order) - s.limit
		for _, e := range s.order[:drop] {
			s.ids.Remove(e.ID)
		}
		s.order = s.order[drop:]
	}

	return writeFileAtomic(s.path, s.order)
}

// Close is a no-op for the file seen store.
func (*FileSeen) Close() error { return nil }
