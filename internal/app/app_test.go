package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 0},
		Crawler: config.CrawlerConfig{
			Concurrency:     2,
			MaxDepthDefault: 2,
			MaxPagesDefault: 50,
			MaxRetries:      2,
			UserAgent:       "webarchive-test/0.1",
			PerHostRPS:      1000,
			PerHostBurst:    100,
			FreshnessWindow: "24h",
		},
		HTTP: config.HTTPConfig{
			TimeoutSeconds:   5,
			BackoffInitialMs: 10,
			BackoffMaxMs:     50,
		},
		Storage:  config.StorageConfig{Provider: "memory"},
		Sessions: config.SessionsConfig{LogsPath: t.TempDir()},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Close(ctx))
	})
	return a
}

func waitForStatus(t *testing.T, a *App, id string, want archive.SessionStatus) archive.Session {
	t.Helper()
	var sess archive.Session
	require.Eventually(t, func() bool {
		var err error
		sess, err = a.Sessions().Snapshot(context.Background(), id)
		if err != nil {
			return false
		}
		return sess.Status == want
	}, 10*time.Second, 25*time.Millisecond)
	return sess
}

func TestAppRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Provider = "s3"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown storage provider")
}

func TestAppCrawlCompletes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/about">about</a><a href="/team">team</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>about page</body></html>`)
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>team page</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestApp(t)
	sess, err := a.StartCrawl(context.Background(), "user-1", []string{srv.URL}, archive.SessionOptions{})
	require.NoError(t, err)
	require.Equal(t, archive.StatusActive, sess.Status)

	done := waitForStatus(t, a, sess.ID, archive.StatusCompleted)
	require.EqualValues(t, 3, done.Counters.PagesFetched)
	require.NotNil(t, done.Finished)

	res, snaps, err := a.Index().Lookup(context.Background(), srv.URL+"/about")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, sess.ID, snaps[0].SessionID)
	require.NotEmpty(t, res.ID)
}

func TestAppStopCrawlCancelsSession(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/slow">slow</a></body></html>`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		fmt.Fprint(w, "slow")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	a := newTestApp(t)
	sess, err := a.StartCrawl(context.Background(), "user-1", []string{srv.URL}, archive.SessionOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Sessions().PagesFetched(sess.ID) >= 1
	}, 10*time.Second, 25*time.Millisecond)

	require.NoError(t, a.StopCrawl(context.Background(), sess.ID))
	done := waitForStatus(t, a, sess.ID, archive.StatusCanceled)
	require.NotNil(t, done.Finished)

	require.ErrorIs(t, a.StopCrawl(context.Background(), sess.ID), archive.ErrSessionNotActive)
}

func TestAppStartCrawlRejectsBadSeeds(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	_, err := a.StartCrawl(context.Background(), "user-1", []string{"::not-a-url"}, archive.SessionOptions{})
	require.Error(t, err)
}
