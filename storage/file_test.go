package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptojobs-notifier/pkg/jobs"
)

func TestFileBackendDocumentLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	sub := jobs.NewSubscriber(1001)
	sub.JobTypes = []jobs.JobType{jobs.TypeBlockchain}
	sub.Keywords = []string{"solidity"}
	sub.Favorites = []string{"abc123"}
	require.NoError(t, backend.Save(ctx, sub))

	// The persisted document is one object keyed by subscriber ID with the
	// documented field layout.
	data, err := os.ReadFile(filepath.Join(dir, subscribersFile))
	require.NoError(t, err)

	var doc map[string]struct {
		Subscribed bool     `json:"subscribed"`
		JobTypes   []string `json:"jobTypes"`
		Keywords   []string `json:"keywords"`
		Favorites  []string `json:"favorites"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	rec, ok := doc["1001"]
	require.True(t, ok)
	assert.True(t, rec.Subscribed)
	assert.Equal(t, []string{"blockchain"}, rec.JobTypes)
	assert.Equal(t, []string{"solidity"}, rec.Keywords)
	assert.Equal(t, []string{"abc123"}, rec.Favorites)

	// No leftover temp files from the atomic write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// And it round-trips.
	got, err := backend.Load(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, sub, got)
}

// TestFileBackendSkipsCorruptRecord verifies that one unreadable record in
// the document does not hide the valid ones.
func TestFileBackendSkipsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	doc := map[string]json.RawMessage{
		"1": json.RawMessage(`{"subscribed":true,"jobTypes":[],"keywords":[],"favorites":[]}`),
		"2": json.RawMessage(`{"subscribed":"definitely-not-a-bool"}`),
		"3": json.RawMessage(`{"subscribed":true,"jobTypes":["backend"],"keywords":[],"favorites":[]}`),
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, subscribersFile), data, 0o600))

	backend, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	subs, err := backend.List(ctx)
	require.NoError(t, err)

	ids := make([]int64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ChatID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestFileSeenIdempotentAndPersistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seen, err := NewFileSeen(dir, testLogger())
	require.NoError(t, err)

	ok, err := seen.HasSeen(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, seen.MarkSeen(ctx, "x"))
	for range 5 {
		require.NoError(t, seen.MarkSeen(ctx, "x"))
	}

	ok, err = seen.HasSeen(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)

	// Repeated marking leaves exactly one entry on disk.
	data, err := os.ReadFile(filepath.Join(dir, seenFile))
	require.NoError(t, err)
	var entries []seenEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, 1)

	// State survives a restart.
	reloaded, err := NewFileSeen(dir, testLogger())
	require.NoError(t, err)
	ok, err = reloaded.HasSeen(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileSeenRetentionBound(t *testing.T) {
	ctx := context.Background()

	seen, err := NewFileSeen(t.TempDir(), testLogger())
	require.NoError(t, err)
	seen.limit = 20

	for i := range 25 {
		require.NoError(t, seen.MarkSeen(ctx, "job-"+strconv.Itoa(i)))
	}

	// Oldest entries were evicted, newest retained.
	ok, err := seen.HasSeen(ctx, "job-0")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = seen.HasSeen(ctx, "job-24")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, seen.order, 20)
}

func TestFileSeenCorruptFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, seenFile), []byte("{not json"), 0o600))

	seen, err := NewFileSeen(dir, testLogger())
	require.NoError(t, err)

	ok, err := seen.HasSeen(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}
