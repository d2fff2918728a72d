package resilience

import (
	"testing"
	"time"
)

func TestBackoffDoubles(t *testing.T) {
	p := RetryPolicy{Allowed: true, BaseDelay: time.Second, Window: time.Minute}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for attempt, want := range expected {
		if got := p.Backoff(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestBackoffWithHint(t *testing.T) {
	p := RetryPolicy{Allowed: true, BaseDelay: time.Second, Window: time.Minute}

	if got := p.BackoffWithHint(0, 5*time.Second); got != 5*time.Second {
		t.Errorf("server hint should win when larger, got %v", got)
	}
	if got := p.BackoffWithHint(3, time.Second); got != 8*time.Second {
		t.Errorf("backoff should win when larger, got %v", got)
	}
}

func TestShouldRetryDisallowed(t *testing.T) {
	p := RetryPolicy{Allowed: false, BaseDelay: time.Second, Window: time.Minute}
	if p.ShouldRetry(time.Now(), 0) {
		t.Error("disabled policy must never retry")
	}
}

func TestShouldRetryWindow(t *testing.T) {
	p := RetryPolicy{Allowed: true, BaseDelay: time.Second, Window: 10 * time.Second}

	start := time.Now()
	if !p.ShouldRetry(start, time.Second) {
		t.Error("retry within the window should be allowed")
	}
	if p.ShouldRetry(start, 11*time.Second) {
		t.Error("retry scheduled past the window must be refused")
	}

	old := time.Now().Add(-time.Minute)
	if p.ShouldRetry(old, time.Second) {
		t.Error("exhausted window must refuse retries")
	}
}

// TestAttemptBound verifies the attempt count bound: for base delay d and
// window w, a perpetually failing operation runs at most
// floor(log2(w/d)) + 1 attempts.
func TestAttemptBound(t *testing.T) {
	p := RetryPolicy{Allowed: true, BaseDelay: time.Second, Window: 8 * time.Second}

	start := time.Now()
	elapsed := time.Duration(0)
	attempts := 1
	for {
		delay := p.Backoff(attempts - 1)
		if elapsed+delay > p.Window {
			break
		}
		elapsed += delay
		attempts++
	}
	_ = start

	// floor(log2(8/1)) + 1 = 4
	if attempts != 4 {
		t.Errorf("expected 4 attempts for w=8s d=1s, got %d", attempts)
	}
}

func TestApplyDefaults(t *testing.T) {
	var p RetryPolicy
	p.ApplyDefaults()
	if p.BaseDelay != DefaultBaseDelay || p.Window != DefaultWindow {
		t.Errorf("defaults not applied: %+v", p)
	}
}

func TestRemaining(t *testing.T) {
	p := RetryPolicy{Allowed: true, BaseDelay: time.Second, Window: time.Second}
	if p.Remaining(time.Now().Add(-2*time.Second)) != 0 {
		t.Error("remaining should clamp at zero")
	}
	if p.Remaining(time.Now()) == 0 {
		t.Error("fresh window should have budget left")
	}
}
