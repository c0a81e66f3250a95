package gateway

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	limit := 5
	rl := NewRateLimiter(limit, time.Second)

	client := "10.0.0.1"

	for i := 0; i < limit; i++ {
		if !rl.Allow(client) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if rl.Allow(client) {
		t.Error("Request should be denied after exceeding limit")
	}
}

func TestRateLimiter_Allow_DifferentClients(t *testing.T) {
	limit := 3
	rl := NewRateLimiter(limit, time.Second)

	for i := 0; i < limit; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("Request %d for first client should be allowed", i+1)
		}
	}

	if rl.Allow("10.0.0.1") {
		t.Error("first client should be denied after exceeding limit")
	}

	if !rl.Allow("10.0.0.2") {
		t.Error("second client should be allowed")
	}
}

func TestRateLimiter_Allow_TokenRefill(t *testing.T) {
	limit := 2
	period := 100 * time.Millisecond
	rl := NewRateLimiter(limit, period)

	client := "10.0.0.1"

	for i := 0; i < limit; i++ {
		rl.Allow(client)
	}

	if rl.Allow(client) {
		t.Error("Request should be denied after exceeding limit")
	}

	time.Sleep(period + 10*time.Millisecond)

	if !rl.Allow(client) {
		t.Error("Request should be allowed after token refill")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	limit := 3
	rl := NewRateLimiter(limit, time.Second)

	client := "10.0.0.1"

	for i := 0; i < limit; i++ {
		rl.Allow(client)
	}

	if rl.Allow(client) {
		t.Error("Request should be denied after exceeding limit")
	}

	rl.Reset(client)

	if !rl.Allow(client) {
		t.Error("Request should be allowed after reset")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	limit := 5
	rl := NewRateLimiter(limit, time.Second)

	client := "10.0.0.1"

	current, max := rl.Remaining(client)
	if current != limit || max != limit {
		t.Errorf("Expected %d/%d tokens, got %d/%d", limit, limit, current, max)
	}

	rl.Allow(client)
	rl.Allow(client)

	current, _ = rl.Remaining(client)
	if current != limit-2 {
		t.Errorf("Expected current tokens %d, got %d", limit-2, current)
	}
}

func TestRateLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)

	rl.Allow("10.0.0.1")
	if rl.size() != 1 {
		t.Fatalf("Expected 1 bucket, got %d", rl.size())
	}

	time.Sleep(150 * time.Millisecond)
	rl.Allow("10.0.0.2")
	rl.cleanup()

	if rl.size() != 1 {
		t.Errorf("Expected idle bucket to be removed, %d remain", rl.size())
	}
}

func TestRateLimiter_StartCleanupStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(5, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	rl.Allow("10.0.0.1")
	rl.StartCleanup(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for rl.size() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if rl.size() != 0 {
		t.Error("Expected background cleanup to remove idle bucket")
	}
}
