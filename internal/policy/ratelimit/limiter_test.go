package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitThrottlesPerHost(t *testing.T) {
	t.Parallel()

	var delays atomic.Int32
	l := New(Config{RPS: 20, Burst: 1, OnDelay: func(string, time.Duration) { delays.Add(1) }})

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://ipfs.io/ipfs/a"))
	require.NoError(t, l.Wait(ctx, "https://ipfs.io/ipfs/b"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int32(1), delays.Load())

	require.NoError(t, l.Wait(ctx, "https://dweb.link/ipfs/a"))
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx, "https://example.com"))
}
