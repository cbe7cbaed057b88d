package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPutIfAbsentFirstWriterWins(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	inserted, owner, err := cache.PutIfAbsent(ctx, "fp", "first", time.Hour)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !inserted || owner != "first" {
		t.Fatalf("Expected first insert to win, got inserted=%v owner=%q", inserted, owner)
	}

	inserted, owner, err = cache.PutIfAbsent(ctx, "fp", "second", time.Hour)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if inserted {
		t.Error("Expected second insert to lose")
	}
	if owner != "first" {
		t.Errorf("Expected owner 'first', got %q", owner)
	}
}

func TestPutIfAbsentConvergesUnderConcurrency(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inserted, _, err := cache.PutIfAbsent(ctx, "shared-fp", fmt.Sprintf("id-%d", i), time.Hour)
			if err != nil {
				t.Errorf("Expected no error, got: %v", err)
				return
			}
			if inserted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly 1 winner among %d concurrent claims, got %d", n, winners)
	}
}

func TestWindowReAdmissionAfterExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	window := 24 * time.Hour

	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	inserted, _, _ := cache.PutIfAbsent(ctx, "fp", "original", window)
	if !inserted {
		t.Fatal("Expected initial claim to succeed")
	}

	// Duplicates keep arriving throughout the window; none refresh the TTL.
	for hour := 1; hour < 24; hour++ {
		now = now.Add(time.Hour)
		inserted, owner, _ := cache.PutIfAbsent(ctx, "fp", fmt.Sprintf("dup-%d", hour), window)
		if inserted {
			t.Fatalf("Expected duplicate at hour %d to be rejected", hour)
		}
		if owner != "original" {
			t.Fatalf("Expected owner 'original' at hour %d, got %q", hour, owner)
		}
	}

	// Just past the window, the fingerprint is eligible again.
	now = now.Add(time.Hour + time.Second)
	inserted, owner, _ := cache.PutIfAbsent(ctx, "fp", "fresh", window)
	if !inserted {
		t.Error("Expected re-admission after window elapsed")
	}
	if owner != "fresh" {
		t.Errorf("Expected new owner 'fresh', got %q", owner)
	}
}

func TestGetReflectsOwnershipAndExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	if owner, _ := cache.Get(ctx, "missing"); owner != "" {
		t.Errorf("Expected empty owner for unknown fingerprint, got %q", owner)
	}

	cache.PutIfAbsent(ctx, "fp", "owner-1", time.Hour)
	if owner, _ := cache.Get(ctx, "fp"); owner != "owner-1" {
		t.Errorf("Expected 'owner-1', got %q", owner)
	}

	now = now.Add(2 * time.Hour)
	if owner, _ := cache.Get(ctx, "fp"); owner != "" {
		t.Errorf("Expected expiry after TTL, got %q", owner)
	}
}
