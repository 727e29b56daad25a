package cache

import (
	"context"
	"testing"
	"time"
)

func TestLocalCache(t *testing.T) {
	config := LocalConfig{
		DefaultExpiration: 5 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}

	cache := NewLocalCache(config)
	defer cache.Close()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		err := cache.Set(ctx, "test_key", "test_value", time.Minute)
		if err != nil {
			t.Errorf("Failed to set cache: %v", err)
		}

		if retrieved, exists := cache.Get(ctx, "test_key"); !exists {
			t.Error("Cache value not found")
		} else if retrieved != "test_value" {
			t.Errorf("Expected %v, got %v", "test_value", retrieved)
		}
	})

	t.Run("Add is first-writer-wins", func(t *testing.T) {
		ok, err := cache.Add(ctx, "window_key", 1, time.Minute)
		if err != nil || !ok {
			t.Fatalf("first Add should succeed, ok=%v err=%v", ok, err)
		}
		ok, err = cache.Add(ctx, "window_key", 1, time.Minute)
		if err != nil {
			t.Fatalf("second Add errored: %v", err)
		}
		if ok {
			t.Error("second Add should report key exists")
		}
	})

	t.Run("Increment", func(t *testing.T) {
		v, err := cache.Increment(ctx, "counter", 2)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if v != 2 {
			t.Errorf("Expected 2, got %d", v)
		}
		v, _ = cache.Increment(ctx, "counter", 3)
		if v != 5 {
			t.Errorf("Expected 5, got %d", v)
		}
	})

	t.Run("GetWithTTL", func(t *testing.T) {
		_ = cache.Set(ctx, "ttl_key", "v", time.Minute)
		_, ttl, exists := cache.GetWithTTL(ctx, "ttl_key")
		if !exists {
			t.Fatal("ttl_key not found")
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("unexpected ttl: %v", ttl)
		}
	})
}
