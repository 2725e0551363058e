package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arechgie/webarchive/internal/archive"
)

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	session := archive.Session{
		ID:      "s1",
		UserID:  "user-1",
		Status:  archive.StatusActive,
		Started: time.Now().UTC(),
		Seeds:   []string{"http://example.com/"},
	}
	require.NoError(t, store.CreateSession(ctx, session))
	require.Error(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, archive.StatusActive, got.Status)

	finished := time.Now().UTC()
	session.Status = archive.StatusCompleted
	session.Finished = &finished
	session.Counters.PagesFetched = 5
	require.NoError(t, store.UpdateSession(ctx, session))

	got, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, archive.StatusCompleted, got.Status)
	require.Equal(t, int64(5), got.Counters.PagesFetched)
	require.NotNil(t, got.Finished)

	_, err = store.GetSession(ctx, "missing")
	require.ErrorIs(t, err, archive.ErrSessionNotFound)
	require.ErrorIs(t, store.UpdateSession(ctx, archive.Session{ID: "missing"}), archive.ErrSessionNotFound)
}

func TestActiveSessionsFiltersTerminal(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateSession(ctx, archive.Session{ID: "a", Status: archive.StatusActive, Started: now}))
	require.NoError(t, store.CreateSession(ctx, archive.Session{ID: "b", Status: archive.StatusCompleted, Started: now, Finished: &now}))

	active, err := store.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "a", active[0].ID)
}

func TestGetSessionReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, archive.Session{
		ID:     "s1",
		Status: archive.StatusActive,
		Seeds:  []string{"http://example.com/"},
	}))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	got.Seeds[0] = "mutated"

	again, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/", again.Seeds[0])
}
