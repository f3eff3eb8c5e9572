package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSpacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 80 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://mega.nz/file/a#k"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://mega.nz/file/b#k"))
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://mega.nz/file/a#k"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://files.example.org/c1502.rar"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHonoursCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://mega.nz/x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://mega.nz/y"))
}

func TestZeroIntervalNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "https://mega.nz/x"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}
