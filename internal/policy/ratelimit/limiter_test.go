package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		observed []string
	)
	// 10 RPS with burst 1 leaves a ~100ms gap between calls.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
		Observer: func(key string, _ time.Duration) {
			mu.Lock()
			observed = append(observed, key)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "rakuten"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "rakuten"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"rakuten"}, observed)
}

func TestLimiter_DifferentKeys(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "amazon"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "yahoo"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "yahoo must not be blocked by amazon")
}

func TestLimiter_SetOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	l.Set("amazon", 0, 0)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, l.Wait(ctx, "amazon"))
	}
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "yahoo"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "yahoo"))
}
