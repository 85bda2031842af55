package donations

import (
	"sync"
	"time"
)

const (
	backoffBase        = time.Second
	backoffMax         = time.Minute
	backoffMaxExponent = 6
	// Consecutive miscellaneous errors tolerated before backing off.
	errorBackoffThreshold = 5
)

// backoffTracker keeps per-streamer error counts and backoff deadlines, so one
// misbehaving provider account slows only its own polls down.
type backoffTracker struct {
	mu     sync.Mutex
	errors map[string]int
	until  map[string]time.Time
	now    func() time.Time
}

func newBackoffTracker() *backoffTracker {
	return &backoffTracker{
		errors: make(map[string]int),
		until:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// inBackoff reports whether the streamer's polls are suspended and for how
// much longer.
func (b *backoffTracker) inBackoff(streamerID string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	deadline, ok := b.until[streamerID]
	if !ok {
		return 0, false
	}
	remaining := deadline.Sub(b.now())
	if remaining <= 0 {
		delete(b.until, streamerID)
		return 0, false
	}
	return remaining, true
}

// success clears the streamer's error history.
func (b *backoffTracker) success(streamerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.errors, streamerID)
	delete(b.until, streamerID)
}

// reset clears the error count but keeps no backoff, used after a 401 where
// the fix is reauthorization rather than waiting.
func (b *backoffTracker) reset(streamerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.errors, streamerID)
	delete(b.until, streamerID)
}

// rateLimited applies exponential backoff (1s, 2s, 4s ... capped at 1m) for
// 429 and 5xx responses and returns the delay.
func (b *backoffTracker) rateLimited(streamerID string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors[streamerID]++
	exp := b.errors[streamerID] - 1
	if exp > backoffMaxExponent {
		exp = backoffMaxExponent
	}
	delay := backoffBase << exp
	if delay > backoffMax {
		delay = backoffMax
	}
	b.until[streamerID] = b.now().Add(delay)
	return delay
}

// failed counts a miscellaneous error. Only a run of them triggers a linear
// backoff (1s per consecutive error, capped at 1m); the returned delay is
// zero below the threshold.
func (b *backoffTracker) failed(streamerID string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors[streamerID]++
	n := b.errors[streamerID]
	if n < errorBackoffThreshold {
		return 0
	}
	delay := backoffBase * time.Duration(n)
	if delay > backoffMax {
		delay = backoffMax
	}
	b.until[streamerID] = b.now().Add(delay)
	return delay
}
