package donations

import (
	"testing"
	"time"
)

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func TestRateLimitedBackoffGrowsExponentially(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newBackoffTracker()
	b.now = fixedClock(&now)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		got := b.rateLimited("s1")
		if got != w {
			t.Fatalf("backoff %d: got %v, want %v", i+1, got, w)
		}
	}
}

func TestInBackoffExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newBackoffTracker()
	b.now = fixedClock(&now)

	b.rateLimited("s1")
	if _, ok := b.inBackoff("s1"); !ok {
		t.Fatal("expected s1 to be in backoff")
	}
	if _, ok := b.inBackoff("s2"); ok {
		t.Fatal("s2 never failed, should not be in backoff")
	}

	now = now.Add(2 * time.Second)
	if _, ok := b.inBackoff("s1"); ok {
		t.Fatal("backoff should have expired")
	}
}

func TestSuccessClearsErrorHistory(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newBackoffTracker()
	b.now = fixedClock(&now)

	b.rateLimited("s1")
	b.rateLimited("s1")
	b.success("s1")
	if got := b.rateLimited("s1"); got != time.Second {
		t.Fatalf("after success, backoff restarted at %v, want 1s", got)
	}
}

func TestFailedBacksOffOnlyAfterRun(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newBackoffTracker()
	b.now = fixedClock(&now)

	for i := 0; i < 4; i++ {
		if got := b.failed("s1"); got != 0 {
			t.Fatalf("error %d: got backoff %v, want none", i+1, got)
		}
		if _, ok := b.inBackoff("s1"); ok {
			t.Fatalf("error %d: should not be in backoff yet", i+1)
		}
	}
	if got := b.failed("s1"); got != 5*time.Second {
		t.Fatalf("5th error: got %v, want 5s", got)
	}
	if _, ok := b.inBackoff("s1"); !ok {
		t.Fatal("expected backoff after 5 consecutive errors")
	}
}
