package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/arechgie/webarchive/internal/archive"
)

type staticIDs struct {
	id string
}

func (g staticIDs) NewID() (string, error) {
	return g.id, nil
}

func TestUpsertResourceReturnsExistingID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResourceStore(mock, staticIDs{id: "candidate-id"})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("INSERT INTO resources").
		WithArgs("candidate-id", "http://example.com/", []byte(`{"content_type":"text/html"}`), now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := store.UpsertResource(context.Background(), "http://example.com/",
		archive.ResourceMeta{"content_type": "text/html"}, now)
	require.NoError(t, err)
	require.Equal(t, "existing-id", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResourceNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResourceStore(mock, staticIDs{id: "x"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM resources WHERE normalized_url").
		WithArgs("http://example.com/missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = store.GetResource(context.Background(), "http://example.com/missing")
	require.ErrorIs(t, err, archive.ErrResourceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkSnapshotInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResourceStore(mock, staticIDs{id: "x"})
	require.NoError(t, err)

	fetched := time.Unix(1700000000, 0).UTC()
	snapshot := archive.Snapshot{
		ID:          "snap-1",
		SessionID:   "session-1",
		ResourceID:  "res-1",
		ContentHash: "abcd",
		Compression: archive.CompressionGzip,
		Bytes:       1024,
		StatusCode:  200,
		FetchedAt:   fetched,
	}
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("snap-1", "session-1", "res-1", "abcd", "gzip", int64(1024), 200, fetched).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.LinkSnapshot(context.Background(), snapshot))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSnapshotsOrdersByFetchTime(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResourceStore(mock, staticIDs{id: "x"})
	require.NoError(t, err)

	fetched := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "resource_id", "content_hash", "compression",
		"bytes", "status_code", "fetched_at",
	}).
		AddRow("snap-1", "s1", "res-1", "aa", "none", int64(10), 200, fetched.Add(-time.Hour)).
		AddRow("snap-2", "s2", "res-1", "bb", "gzip", int64(20), 200, fetched)
	mock.ExpectQuery("SELECT (.+) FROM snapshots WHERE resource_id").
		WithArgs("res-1").
		WillReturnRows(rows)

	snapshots, err := store.ListSnapshots(context.Background(), "res-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, archive.CompressionNone, snapshots[0].Compression)
	require.Equal(t, archive.CompressionGzip, snapshots[1].Compression)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastFetchedMissingURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResourceStore(mock, staticIDs{id: "x"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT last_fetched FROM resources").
		WithArgs("http://example.com/").
		WillReturnRows(pgxmock.NewRows([]string{"last_fetched"}))

	_, ok, err := store.LastFetched(context.Background(), "http://example.com/")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteResourceRemovesSnapshotsFirst(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResourceStore(mock, staticIDs{id: "x"})
	require.NoError(t, err)

	fetched := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT (.+) FROM snapshots WHERE resource_id").
		WithArgs("res-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "resource_id", "content_hash", "compression",
			"bytes", "status_code", "fetched_at",
		}).AddRow("snap-1", "s1", "res-1", "aa", "none", int64(10), 200, fetched))
	mock.ExpectExec("DELETE FROM snapshots").
		WithArgs("res-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM resources").
		WithArgs("res-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	removed, err := store.DeleteResource(context.Background(), "res-1")
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, "aa", removed[0].ContentHash)
	require.NoError(t, mock.ExpectationsWereMet())
}
