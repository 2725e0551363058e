package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arechgie/webarchive/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestWaitAllowsImmediateFirstToken(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "example.com"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitThrottlesSecondToken(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "example.com"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "slow.example.com"))

	// A different host must not inherit the exhausted bucket.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "fast.example.com"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitRespectsContextCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "example.com"))

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Wait(cancelCtx, "example.com")
	require.Error(t, err)
}

func TestNextReady(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	require.True(t, l.NextReady("unseen.example.com").IsZero())

	require.NoError(t, l.Wait(context.Background(), "seen.example.com"))
	next := l.NextReady("seen.example.com")
	require.False(t, next.IsZero())
	require.True(t, next.After(time.Now().Add(-time.Second)))
}

func TestUnlimitedWhenRPSZero(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0, DefaultBurst: 0})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "example.com"))
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
