package submission

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesWithinJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, rand: rand.New(rand.NewSource(1))}

	for attempt, expected := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
	} {
		d := b.Delay(attempt)
		require.GreaterOrEqual(t, d, time.Duration(float64(expected)*0.8), "attempt %d", attempt)
		require.Less(t, d, time.Duration(float64(expected)*1.2), "attempt %d", attempt)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second, rand: rand.New(rand.NewSource(1))}

	for _, attempt := range []int{6, 10, 100} {
		d := b.Delay(attempt)
		require.LessOrEqual(t, d, time.Duration(float64(30*time.Second)*1.2), "attempt %d", attempt)
		require.GreaterOrEqual(t, d, time.Duration(float64(30*time.Second)*0.8), "attempt %d", attempt)
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, rand: rand.New(rand.NewSource(1))}
	d := b.Delay(0)
	require.GreaterOrEqual(t, d, 800*time.Millisecond)
	require.Less(t, d, 1200*time.Millisecond)
}
