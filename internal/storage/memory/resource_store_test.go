package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/id/uuid"
)

func TestUpsertResourceCreatesOnce(t *testing.T) {
	t.Parallel()

	store := NewResourceStore(uuid.New())
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.UpsertResource(ctx, "http://example.com/", archive.ResourceMeta{"content_type": "text/html"}, now)
	require.NoError(t, err)
	second, err := store.UpsertResource(ctx, "http://example.com/", archive.ResourceMeta{"etag": "abc"}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, first, second)

	resource, err := store.GetResource(ctx, "http://example.com/")
	require.NoError(t, err)
	require.Equal(t, "text/html", resource.Data["content_type"])
	require.Equal(t, "abc", resource.Data["etag"])
	require.Equal(t, now, resource.FirstSeen)
	require.Equal(t, now.Add(time.Minute), resource.LastFetched)
}

func TestUpsertResourceConcurrentSameURL(t *testing.T) {
	t.Parallel()

	store := NewResourceStore(uuid.New())
	ctx := context.Background()
	now := time.Now().UTC()

	const callers = 16
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.UpsertResource(ctx, "http://example.com/race", nil, now)
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1)
}

func TestSnapshotLifecycle(t *testing.T) {
	t.Parallel()

	store := NewResourceStore(uuid.New())
	ctx := context.Background()
	now := time.Now().UTC()

	resourceID, err := store.UpsertResource(ctx, "http://example.com/", nil, now)
	require.NoError(t, err)

	older := archive.Snapshot{ID: "snap-1", SessionID: "s1", ResourceID: resourceID, ContentHash: "aa", FetchedAt: now.Add(-time.Hour)}
	newer := archive.Snapshot{ID: "snap-2", SessionID: "s2", ResourceID: resourceID, ContentHash: "bb", FetchedAt: now}
	require.NoError(t, store.LinkSnapshot(ctx, newer))
	require.NoError(t, store.LinkSnapshot(ctx, older))

	snapshots, err := store.ListSnapshots(ctx, resourceID)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, "snap-1", snapshots[0].ID)
	require.Equal(t, "snap-2", snapshots[1].ID)

	got, err := store.GetSnapshot(ctx, "snap-2")
	require.NoError(t, err)
	require.Equal(t, "bb", got.ContentHash)

	_, err = store.GetSnapshot(ctx, "missing")
	require.ErrorIs(t, err, archive.ErrSnapshotNotFound)
}

func TestLinkSnapshotRequiresResource(t *testing.T) {
	t.Parallel()

	store := NewResourceStore(uuid.New())
	err := store.LinkSnapshot(context.Background(), archive.Snapshot{ID: "snap", ResourceID: "missing"})
	require.ErrorIs(t, err, archive.ErrResourceNotFound)
}

func TestLastFetched(t *testing.T) {
	t.Parallel()

	store := NewResourceStore(uuid.New())
	ctx := context.Background()
	now := time.Now().UTC()

	_, ok, err := store.LastFetched(ctx, "http://example.com/")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.UpsertResource(ctx, "http://example.com/", nil, now)
	require.NoError(t, err)

	at, ok, err := store.LastFetched(ctx, "http://example.com/")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now, at)
}

func TestDeleteResourceCascades(t *testing.T) {
	t.Parallel()

	store := NewResourceStore(uuid.New())
	ctx := context.Background()
	now := time.Now().UTC()

	resourceID, err := store.UpsertResource(ctx, "http://example.com/", nil, now)
	require.NoError(t, err)
	require.NoError(t, store.LinkSnapshot(ctx, archive.Snapshot{ID: "snap-1", ResourceID: resourceID, ContentHash: "aa", FetchedAt: now}))

	removed, err := store.DeleteResource(ctx, resourceID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, "aa", removed[0].ContentHash)

	_, err = store.GetResource(ctx, "http://example.com/")
	require.ErrorIs(t, err, archive.ErrResourceNotFound)
	_, err = store.GetSnapshot(ctx, "snap-1")
	require.ErrorIs(t, err, archive.ErrSnapshotNotFound)
}
