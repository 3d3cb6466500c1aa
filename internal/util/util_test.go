package util

import (
	"context"
	"errors"
	"testing"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() call %d should succeed within burst", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() should fail once the burst is exhausted")
	}
}

func TestRateLimiterMinBurst(t *testing.T) {
	rl := NewRateLimiter(60, 0)
	if !rl.Allow() {
		t.Error("a limiter with burst < 1 should still allow one operation")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if log := NewLogger(level, "json"); log == nil {
			t.Errorf("NewLogger(%q, json) returned nil", level)
		}
	}
	if log := NewLogger("info", "text"); log == nil {
		t.Error("NewLogger(info, text) returned nil")
	}
}
