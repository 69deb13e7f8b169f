package cache

import (
	"context"
	"testing"
	"time"
)

func TestTTLCache(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, ok, _ := c.GetBytes(ctx, "a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := c.SetBytes(ctx, "a", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if err := c.SetBytes(ctx, "forever", []byte("x"), 0); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}

	got, ok, err := c.GetBytes(ctx, "a")
	if err != nil || !ok || string(got) != "payload" {
		t.Fatalf("GetBytes = %q, %v, %v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.GetBytes(ctx, "a"); ok {
		t.Error("entry should have expired")
	}
	if _, ok, _ := c.GetBytes(ctx, "forever"); !ok {
		t.Error("zero ttl should never expire")
	}
}
