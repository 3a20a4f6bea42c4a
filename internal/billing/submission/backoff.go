package submission

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base, capped at
// Max, with ±20% jitter so a burst of failures does not retry in lockstep.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// rand is injectable for deterministic tests; nil uses the global source.
	rand *rand.Rand
}

// Delay returns the wait before the given attempt (1-based, the attempt that
// just failed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if d > b.Max {
		d = b.Max
	}
	return b.jitter(d)
}

func (b Backoff) jitter(d time.Duration) time.Duration {
	var f float64
	if b.rand != nil {
		f = b.rand.Float64()
	} else {
		f = rand.Float64()
	}
	// Scale into [0.8, 1.2).
	return time.Duration(float64(d) * (0.8 + 0.4*f))
}
