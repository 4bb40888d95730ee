package cache

import (
	"context"
	"testing"
	"time"
)

func TestInvalidateByTag(t *testing.T) {
	c := NewTagCache[string](16, time.Hour)
	c.Set("task:1", "a", "status", "user:7")
	c.Set("task:2", "b", "status")
	c.Set("profile:7", "c", "user:7")
	c.Set("conv:1", "d", "conversations")

	if err := c.InvalidateByTag(context.Background(), "user:7"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, key := range []string{"task:1", "profile:7"} {
		if _, ok := c.Get(key); ok {
			t.Fatalf("%s should have been invalidated", key)
		}
	}
	for _, key := range []string{"task:2", "conv:1"} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("%s should still be cached", key)
		}
	}
	if c.Invalidated() != 2 {
		t.Fatalf("expected 2 invalidations, got %d", c.Invalidated())
	}

	if err := c.InvalidateByTag(context.Background(), "status"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := c.Get("task:2"); ok {
		t.Fatal("task:2 should have been invalidated")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", c.Len())
	}
}

func TestSetReplacesTags(t *testing.T) {
	c := NewTagCache[int](16, time.Hour)
	c.Set("k", 1, "old")
	c.Set("k", 2, "new")

	_ = c.InvalidateByTag(context.Background(), "old")
	if v, ok := c.Get("k"); !ok || v != 2 {
		t.Fatalf("old tag must not invalidate the replaced entry, got %v %v", v, ok)
	}
	_ = c.InvalidateByTag(context.Background(), "new")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to be invalidated by its new tag")
	}
}

func TestEvictionCleansTagIndex(t *testing.T) {
	c := NewTagCache[int](1, time.Hour)
	c.Set("first", 1, "shared")
	c.Set("second", 2, "shared")

	if _, ok := c.Get("first"); ok {
		t.Fatal("expected first entry to be evicted")
	}
	_ = c.InvalidateByTag(context.Background(), "shared")
	if c.Invalidated() != 1 || c.Len() != 0 {
		t.Fatalf("unexpected state invalidated=%d len=%d", c.Invalidated(), c.Len())
	}
}

func TestInvalidateHonoursContext(t *testing.T) {
	c := NewTagCache[int](4, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.InvalidateByTag(ctx, "any"); err == nil {
		t.Fatal("expected cancelled context error")
	}
}
