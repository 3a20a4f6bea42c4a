package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

func TestInMemoryAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("first request allowed", func(t *testing.T) {
		l := NewInMemory()
		result, err := l.Allow(ctx, "client-a", testLimit, testWindow)
		require.NoError(t, err)
		require.True(t, result.Allowed)
		require.Equal(t, testLimit, result.Limit)
		require.Equal(t, testLimit-1, result.Remaining)
	})

	t.Run("requests up to limit allowed", func(t *testing.T) {
		l := NewInMemory()
		var result Result
		for i := 0; i < testLimit; i++ {
			var err error
			result, err = l.Allow(ctx, "client-a", testLimit, testWindow)
			require.NoError(t, err)
		}
		require.True(t, result.Allowed)
		require.Equal(t, 0, result.Remaining)
	})

	t.Run("request over limit denied", func(t *testing.T) {
		l := NewInMemory()
		for i := 0; i < testLimit; i++ {
			_, err := l.Allow(ctx, "client-a", testLimit, testWindow)
			require.NoError(t, err)
		}
		result, err := l.Allow(ctx, "client-a", testLimit, testWindow)
		require.NoError(t, err)
		require.False(t, result.Allowed)
		require.False(t, result.ResetAt.IsZero())
		require.GreaterOrEqual(t, result.RetryAfter(), 1)
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewInMemory()
		for i := 0; i < testLimit; i++ {
			_, err := l.Allow(ctx, "client-a", testLimit, testWindow)
			require.NoError(t, err)
		}
		result, err := l.Allow(ctx, "client-b", testLimit, testWindow)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		l := NewInMemory()
		short := 30 * time.Millisecond
		for i := 0; i < 3; i++ {
			_, err := l.Allow(ctx, "client-a", 3, short)
			require.NoError(t, err)
		}
		denied, err := l.Allow(ctx, "client-a", 3, short)
		require.NoError(t, err)
		require.False(t, denied.Allowed)

		time.Sleep(short + 10*time.Millisecond)
		again, err := l.Allow(ctx, "client-a", 3, short)
		require.NoError(t, err)
		require.True(t, again.Allowed)
	})

	t.Run("reset clears the window", func(t *testing.T) {
		l := NewInMemory()
		for i := 0; i < testLimit; i++ {
			_, err := l.Allow(ctx, "client-a", testLimit, testWindow)
			require.NoError(t, err)
		}
		l.Reset("client-a")
		result, err := l.Allow(ctx, "client-a", testLimit, testWindow)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	})
}

func TestInMemoryConcurrentAccess(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const goroutines = 20
	allowed := make([]bool, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := l.Allow(ctx, "shared", testLimit, testWindow)
			require.NoError(t, err)
			allowed[i] = result.Allowed
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range allowed {
		if ok {
			count++
		}
	}
	require.Equal(t, testLimit, count, "exactly the limit may pass")
}
