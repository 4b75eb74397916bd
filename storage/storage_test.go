package storage

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptojobs-notifier/pkg/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// backends under test. Redis and bucket backends share the same Subscribers
// wrapper and serialization; they are exercised against real services, not
// here.
func testBackends(t *testing.T) map[string]Backend {
	t.Helper()

	fileBackend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	return map[string]Backend{
		"file":   fileBackend,
		"memory": NewMemoryBackend(),
	}
}

func TestSubscribersContract(t *testing.T) {
	ctx := context.Background()

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			subs := NewSubscribers(backend, testLogger())

			// Absent subscriber.
			_, err := subs.Get(ctx, 42)
			assert.ErrorIs(t, err, ErrNotFound)

			// Subscribe creates the record.
			sub, err := subs.Subscribe(ctx, 42)
			require.NoError(t, err)
			assert.True(t, sub.Subscribed)

			// Filter round-trip.
			want := jobs.Filter{
				JobTypes: []jobs.JobType{jobs.TypeBackend, jobs.TypeDevops},
				Keywords: []string{"rust", "golang"},
			}
			require.NoError(t, subs.SetFilter(ctx, 42, want))

			got, err := subs.Get(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, want, got.Filter)
			assert.True(t, got.Subscribed)

			// Incremental edits.
			require.NoError(t, subs.AddJobType(ctx, 42, jobs.TypeQA))
			require.NoError(t, subs.AddJobType(ctx, 42, jobs.TypeQA)) // duplicate ignored
			require.NoError(t, subs.RemoveJobType(ctx, 42, jobs.TypeBackend))
			require.NoError(t, subs.AddKeyword(ctx, 42, "  Remote  "))
			require.NoError(t, subs.RemoveKeyword(ctx, 42, "RUST")) // case-insensitive

			got, err = subs.Get(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, []jobs.JobType{jobs.TypeDevops, jobs.TypeQA}, got.JobTypes)
			assert.Equal(t, []string{"golang", "Remote"}, got.Keywords)

			// Removing entries that do not exist is a no-op, not a failure.
			require.NoError(t, subs.RemoveJobType(ctx, 42, jobs.TypeDesign))
			require.NoError(t, subs.RemoveKeyword(ctx, 42, "cobol"))

			// Clear.
			require.NoError(t, subs.ClearFilters(ctx, 42))
			got, err = subs.Get(ctx, 42)
			require.NoError(t, err)
			assert.True(t, got.Filter.Empty())

			// Unsubscribe keeps the record.
			require.NoError(t, subs.Unsubscribe(ctx, 42))
			got, err = subs.Get(ctx, 42)
			require.NoError(t, err)
			assert.False(t, got.Subscribed)

			// Re-subscribe is idempotent.
			_, err = subs.Subscribe(ctx, 42)
			require.NoError(t, err)
			got, err = subs.Get(ctx, 42)
			require.NoError(t, err)
			assert.True(t, got.Subscribed)
		})
	}
}

func TestListActive(t *testing.T) {
	ctx := context.Background()

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			subs := NewSubscribers(backend, testLogger())

			_, err := subs.Subscribe(ctx, 1)
			require.NoError(t, err)
			_, err = subs.Subscribe(ctx, 2)
			require.NoError(t, err)
			require.NoError(t, subs.Unsubscribe(ctx, 2))
			_, err = subs.Subscribe(ctx, 3)
			require.NoError(t, err)

			active, err := subs.ListActive(ctx)
			require.NoError(t, err)

			ids := make([]int64, 0, len(active))
			for _, s := range active {
				ids = append(ids, s.ChatID)
			}
			assert.ElementsMatch(t, []int64{1, 3}, ids)
		})
	}
}

func TestFavoritesBounded(t *testing.T) {
	ctx := context.Background()
	subs := NewSubscribers(NewMemoryBackend(), testLogger())

	_, err := subs.Subscribe(ctx, 7)
	require.NoError(t, err)

	for i := range maxFavorites + 10 {
		require.NoError(t, subs.AddFavorite(ctx, 7, "job-"+strconv.Itoa(i)))
	}
	// Duplicate does not grow the list.
	require.NoError(t, subs.AddFavorite(ctx, 7, "job-12"))

	got, err := subs.Get(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, got.Favorites, maxFavorites)
	// Oldest entries were evicted, newest kept.
	assert.NotContains(t, got.Favorites, "job-0")
	assert.Contains(t, got.Favorites, "job-"+strconv.Itoa(maxFavorites+9))

	require.NoError(t, subs.RemoveFavorite(ctx, 7, got.Favorites[0]))
	require.NoError(t, subs.RemoveFavorite(ctx, 7, "never-saved")) // no-op

	after, err := subs.Get(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, after.Favorites, maxFavorites-1)
}

// TestConcurrentEdits exercises the per-subscriber locking: concurrent
// keyword adds for the same record must all land.
func TestConcurrentEdits(t *testing.T) {
	ctx := context.Background()
	subs := NewSubscribers(NewMemoryBackend(), testLogger())

	_, err := subs.Subscribe(ctx, 9)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = subs.AddKeyword(ctx, 9, "kw-"+strconv.Itoa(i))
		}()
	}
	wg.Wait()

	got, err := subs.Get(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, got.Keywords, 20)
}
