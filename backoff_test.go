package skycache

import (
	"context"
	"testing"
	"time"
)

func TestRetryDelayDoublesWithinJitterBounds(t *testing.T) {
	const (
		base = 50 * time.Millisecond
		max  = 10 * time.Second
	)

	for attempt := 0; attempt < 5; attempt++ {
		want := float64(base) * float64(int(1)<<uint(attempt))
		lo := time.Duration(want * (1 - jitterFactor))
		hi := time.Duration(want * (1 + jitterFactor))

		for trial := 0; trial < 50; trial++ {
			got := retryDelay(base, max, attempt)
			if got < lo || got > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestRetryDelayCapped(t *testing.T) {
	const (
		base = time.Second
		max  = 2 * time.Second
	)
	for trial := 0; trial < 50; trial++ {
		if got := retryDelay(base, max, 10); got > max {
			t.Fatalf("delay %v exceeds cap %v", got, max)
		}
	}
}

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sleep(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("sleep = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sleep ignored cancellation")
	}
}

func TestSleepCompletes(t *testing.T) {
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
}
