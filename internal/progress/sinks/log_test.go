package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arechgie/webarchive/internal/progress"
)

func TestSessionLogSinkAppendsJSONLines(t *testing.T) {
	t.Parallel()

	sink, err := NewSessionLogSink(t.TempDir(), nil)
	require.NoError(t, err)
	defer sink.Close(context.Background())

	ctx := context.Background()
	batch := []progress.Event{
		{SessionID: "s1", TS: time.Now().UTC(), Kind: progress.KindSessionStart},
		{SessionID: "s1", TS: time.Now().UTC(), Kind: progress.KindPageArchived, URL: "http://example.com/", Bytes: 42},
	}
	require.NoError(t, sink.Consume(ctx, batch))
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{SessionID: "s1", TS: time.Now().UTC(), Kind: progress.KindSessionDone},
	}))

	lines := readLines(t, sink.LogPath("s1"))
	require.Len(t, lines, 3)
	require.Equal(t, progress.KindSessionStart, lines[0].Kind)
	require.Equal(t, progress.KindPageArchived, lines[1].Kind)
	require.Equal(t, int64(42), lines[1].Bytes)
	require.Equal(t, progress.KindSessionDone, lines[2].Kind)
}

func TestSessionLogSinkSeparatesSessions(t *testing.T) {
	t.Parallel()

	sink, err := NewSessionLogSink(t.TempDir(), nil)
	require.NoError(t, err)
	defer sink.Close(context.Background())

	ts := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: "a", TS: ts, Kind: progress.KindSessionStart},
		{SessionID: "b", TS: ts, Kind: progress.KindSessionStart},
		{SessionID: "a", TS: ts, Kind: progress.KindPageFailed, URL: "http://example.com/x", Note: "boom"},
	}))

	require.Len(t, readLines(t, sink.LogPath("a")), 2)
	require.Len(t, readLines(t, sink.LogPath("b")), 1)
}

func TestSessionLogSinkAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ts := time.Now().UTC()

	first, err := NewSessionLogSink(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.Consume(context.Background(), []progress.Event{
		{SessionID: "s1", TS: ts, Kind: progress.KindSessionStart},
	}))
	require.NoError(t, first.Close(context.Background()))

	second, err := NewSessionLogSink(dir, nil)
	require.NoError(t, err)
	require.NoError(t, second.Consume(context.Background(), []progress.Event{
		{SessionID: "s1", TS: ts, Kind: progress.KindSessionDone},
	}))
	require.NoError(t, second.Close(context.Background()))

	require.Len(t, readLines(t, second.LogPath("s1")), 2)
}

func readLines(t *testing.T, path string) []progress.Event {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []progress.Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var evt progress.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		events = append(events, evt)
	}
	require.NoError(t, scanner.Err())
	return events
}
