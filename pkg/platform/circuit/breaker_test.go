package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("authority")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "authority", b.Name())
	assert.True(t, b.Allow())
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b := New("authority", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		open, change := b.RecordFailure()
		assert.False(t, open, "failure %d should not trip the breaker", i+1)
		assert.False(t, change.Opened)
	}

	open, change := b.RecordFailure()
	assert.True(t, open)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
}

func TestBreakerClosesAfterEnoughSuccesses(t *testing.T) {
	b := New("authority", WithFailureThreshold(1), WithSuccessThreshold(2))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	closed, change := b.RecordSuccess()
	assert.False(t, closed)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen(), "one success is not enough")

	closed, change = b.RecordSuccess()
	assert.True(t, closed)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	b := New("authority", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "streak restarted after the success")

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreakerFailureClearsSuccessStreak(t *testing.T) {
	b := New("authority", WithFailureThreshold(1), WithSuccessThreshold(3))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.True(t, b.IsOpen(), "recovery streak restarted after the failure")
	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestBreakerResetForcesClosed(t *testing.T) {
	b := New("authority", WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailuresWhileOpenDoNotRetrip(t *testing.T) {
	b := New("authority", WithFailureThreshold(1))

	b.RecordFailure()

	open, change := b.RecordFailure()
	assert.True(t, open)
	assert.False(t, change.Opened, "already open, no transition to announce")
}

func TestBreakerAllowsOneProbePerInterval(t *testing.T) {
	b := New("authority", WithFailureThreshold(1), WithProbeInterval(50*time.Millisecond))

	assert.True(t, b.Allow(), "closed breaker always allows")

	b.RecordFailure()
	assert.False(t, b.Allow(), "freshly opened breaker blocks until the probe interval passes")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, b.Allow(), "one probe per interval")
	assert.False(t, b.Allow(), "probe budget spent")
}
