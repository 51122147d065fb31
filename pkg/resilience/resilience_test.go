package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensOnRepeatedRateLimits(t *testing.T) {
	b := NewCircuitBreaker(2, 100*time.Millisecond)
	if !b.Allow() {
		t.Fatalf("breaker started open")
	}
	b.OnError(RateLimitError{Backend: "booking"})
	if !b.Allow() {
		t.Fatalf("breaker opened below threshold")
	}
	b.OnError(RateLimitError{Backend: "booking"})
	if b.Allow() {
		t.Fatalf("breaker did not open at threshold")
	}
	time.Sleep(120 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("breaker did not close after cooldown")
	}
}

func TestBreakerIgnoresOtherErrors(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	b.OnError(errors.New("connection refused"))
	b.OnError(errors.New("timeout"))
	if !b.Allow() {
		t.Fatalf("breaker opened on non rate-limit errors")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewCircuitBreaker(2, time.Minute)
	b.OnError(RateLimitError{})
	b.OnSuccess()
	b.OnError(RateLimitError{})
	if !b.Allow() {
		t.Fatalf("success did not reset the failure count")
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	p := NewRetryPolicy(3, time.Millisecond)
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("err=%v attempts=%d", err, attempts)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewRetryPolicy(5, 10*time.Millisecond)
	attempts := 0
	err := p.Do(ctx, func() error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("kept retrying after cancel: %d", attempts)
	}
}
