package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.OpenTimeout = time.Hour
	cb := NewBreaker(cfg)

	fail := errors.New("backend down")
	for i := 0; i < int(cfg.ConsecutiveFails)+1; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, fail })
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	if !IsOpen(err) {
		t.Fatalf("expected open-state error, got %v", err)
	}
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := NewBreaker(DefaultBreakerConfig("ok"))
	for i := 0; i < 20; i++ {
		if _, err := cb.Execute(func() (interface{}, error) { return i, nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if IsOpen(errors.New("other")) {
		t.Fatal("plain error must not be reported as open")
	}
}
