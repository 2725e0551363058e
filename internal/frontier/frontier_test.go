package frontier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func enqueue(t *testing.T, f *Frontier, url string, depth int) {
	t.Helper()
	require.NoError(t, f.Enqueue(context.Background(), archive.FrontierEntry{
		URL:       url,
		SessionID: "session-1",
		Depth:     depth,
	}))
}

func TestEnqueueRejectsEquivalentURLs(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	enqueue(t, f, "http://example.com/a", 0)

	err := f.Enqueue(context.Background(), archive.FrontierEntry{
		URL: "http://example.com:80/a#frag",
	})
	require.ErrorIs(t, err, archive.ErrDuplicateURL)
	require.Equal(t, 1, f.Pending())
}

func TestEnqueueRejectsInFlightKey(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/a", 0)

	entry, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)

	// The dispatched key stays reserved until confirmed.
	err = f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/a"})
	require.ErrorIs(t, err, archive.ErrDuplicateURL)

	require.NoError(t, f.MarkFetched(ctx, entry.Key))
	err = f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/a"})
	require.ErrorIs(t, err, archive.ErrDuplicateURL)
}

func TestDequeueIsBreadthFirstThenFIFO(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/deep", 2)
	enqueue(t, f, "http://example.com/first", 0)
	enqueue(t, f, "http://example.com/second", 0)
	enqueue(t, f, "http://example.com/mid", 1)

	var got []string
	for i := 0; i < 4; i++ {
		entry, err := f.DequeueNextReady(ctx)
		require.NoError(t, err)
		got = append(got, entry.URL)
		require.NoError(t, f.MarkFetched(ctx, entry.Key))
	}
	require.Equal(t, []string{
		"http://example.com/first",
		"http://example.com/second",
		"http://example.com/mid",
		"http://example.com/deep",
	}, got)
}

func TestDequeueReturnsDrainedWhenEmpty(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	_, err := f.DequeueNextReady(context.Background())
	require.ErrorIs(t, err, archive.ErrFrontierEmpty)
}

func TestDequeueNotDrainedWhileInFlight(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/a", 0)

	entry, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)

	// In-flight work may still discover links, so the frontier is not
	// drained yet; a second dequeue must block instead.
	blockedCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = f.DequeueNextReady(blockedCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, f.MarkFetched(ctx, entry.Key))
	_, err = f.DequeueNextReady(ctx)
	require.ErrorIs(t, err, archive.ErrFrontierEmpty)
}

func TestMarkFailedSchedulesRetryWithBackoff(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/retry", 0)

	entry, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)
	require.Zero(t, entry.Attempts)

	start := time.Now()
	require.NoError(t, f.MarkFailed(ctx, entry.Key, 150*time.Millisecond))

	retried, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)
	require.Equal(t, entry.Key, retried.Key)
	require.Equal(t, 1, retried.Attempts)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/hold", 0)
	held, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)

	results := make(chan archive.FrontierEntry, 1)
	go func() {
		entry, err := f.DequeueNextReady(ctx)
		if err == nil {
			results <- entry
		}
	}()

	time.Sleep(50 * time.Millisecond)
	enqueue(t, f, "http://example.com/new", 0)

	select {
	case entry := <-results:
		require.Equal(t, "http://example.com/new", entry.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
	require.NoError(t, f.MarkFetched(ctx, held.Key))
}

func TestHostReadyGatesDispatch(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	ready := time.Now().Add(200 * time.Millisecond)
	f := New(Config{
		HostReady: func(host string) time.Time {
			mu.Lock()
			defer mu.Unlock()
			if host == "slow.example.com" {
				return ready
			}
			return time.Time{}
		},
	}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://slow.example.com/a", 0)
	enqueue(t, f, "http://fast.example.com/b", 1)

	// Depth 1 on the ready host beats depth 0 on the throttled host.
	first, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)
	require.Equal(t, "fast.example.com", first.Host)

	second, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)
	require.Equal(t, "slow.example.com", second.Host)
	require.False(t, time.Now().Before(ready))
}

func TestFreshnessWindowAllowsRecrawl(t *testing.T) {
	t.Parallel()

	f := New(Config{Freshness: 100 * time.Millisecond}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/fresh", 0)

	entry, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)
	require.NoError(t, f.MarkFetched(ctx, entry.Key))

	err = f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/fresh"})
	require.ErrorIs(t, err, archive.ErrDuplicateURL)

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/fresh"}))
}

func TestEnqueueConsultsArchivedRecency(t *testing.T) {
	t.Parallel()

	archived := map[string]time.Time{
		"http://example.com/fresh": time.Now().Add(-time.Minute),
		"http://example.com/stale": time.Now().Add(-2 * time.Hour),
	}
	f := New(Config{
		Freshness: time.Hour,
		LastArchived: func(_ context.Context, key string) (time.Time, bool, error) {
			at, ok := archived[key]
			return at, ok, nil
		},
	}, nil)
	ctx := context.Background()

	// Archived by an earlier session within the window: duplicate even
	// though this frontier never resolved the key itself.
	err := f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/fresh"})
	require.ErrorIs(t, err, archive.ErrDuplicateURL)
	require.Equal(t, 0, f.Pending())

	// Outside the window the recrawl is allowed.
	require.NoError(t, f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/stale"}))
	require.NoError(t, f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/new"}))
	require.Equal(t, 2, f.Pending())
}

func TestEnqueueToleratesRecencyLookupFailure(t *testing.T) {
	t.Parallel()

	f := New(Config{
		Freshness: time.Hour,
		LastArchived: func(context.Context, string) (time.Time, bool, error) {
			return time.Time{}, false, context.DeadlineExceeded
		},
	}, nil)

	// A failed index lookup only costs a redundant fetch.
	require.NoError(t, f.Enqueue(context.Background(), archive.FrontierEntry{
		URL: "http://example.com/a",
	}))
	require.Equal(t, 1, f.Pending())
}

func TestRecoverRequeuesUnresolved(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{
		restoreEntries: []archive.FrontierEntry{
			{Key: "http://example.com/pending", URL: "http://example.com/pending", Host: "example.com"},
		},
		restoreResolved: map[string]time.Time{
			"http://example.com/done": time.Now(),
		},
	}
	f := New(Config{}, journal)
	ctx := context.Background()
	require.NoError(t, f.Recover(ctx))

	// The resolved key is deduplicated without a freshness window.
	err := f.Enqueue(ctx, archive.FrontierEntry{URL: "http://example.com/done"})
	require.ErrorIs(t, err, archive.ErrDuplicateURL)

	entry, err := f.DequeueNextReady(ctx)
	require.NoError(t, err)
	require.Equal(t, "http://example.com/pending", entry.Key)
}

func TestNoConcurrentDispatchOfSameKey(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	ctx := context.Background()
	enqueue(t, f, "http://example.com/only", 0)

	const workers = 8
	var wg sync.WaitGroup
	dispatched := make(chan archive.FrontierEntry, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			defer cancel()
			entry, err := f.DequeueNextReady(dctx)
			if err == nil {
				dispatched <- entry
			}
		}()
	}
	wg.Wait()
	close(dispatched)

	var got []archive.FrontierEntry
	for e := range dispatched {
		got = append(got, e)
	}
	require.Len(t, got, 1)
}

// --- fakes ---

type fakeJournal struct {
	NopJournal
	restoreEntries  []archive.FrontierEntry
	restoreResolved map[string]time.Time
}

func (j *fakeJournal) Restore(context.Context) ([]archive.FrontierEntry, map[string]time.Time, error) {
	return j.restoreEntries, j.restoreResolved, nil
}
