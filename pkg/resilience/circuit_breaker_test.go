package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.SetClock(func() time.Time { return now })

	if cb.OnError(errors.New("500")) {
		t.Fatalf("plain errors must not trip the breaker")
	}
	if cb.OnError(RateLimitError{Provider: "chat"}) {
		t.Fatalf("first rate limit must not trip the breaker")
	}
	if !cb.OnError(fmt.Errorf("wrapped: %w", RateLimitError{Provider: "chat"})) {
		t.Fatalf("second rate limit should trip the breaker")
	}
	if cb.Allow() {
		t.Fatalf("expected breaker open")
	}

	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker to close after cooldown")
	}
}

func TestCircuitBreakerSuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.OnError(RateLimitError{})
	cb.OnSuccess()
	if cb.OnError(RateLimitError{}) {
		t.Fatalf("success should reset the failure count")
	}
	if cb.Open() {
		t.Fatalf("expected breaker closed")
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	if (RateLimitError{}).Error() != "rate limit" {
		t.Fatalf("unexpected default message")
	}
	if (RateLimitError{Message: "slow down"}).Error() != "slow down" {
		t.Fatalf("unexpected message")
	}
}
