package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/netliquidity/internal/cache"
	"github.com/rewired-gh/netliquidity/internal/config"
)

type closingCache struct {
	closed int
	err    error
}

func (c *closingCache) GetBytes(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (c *closingCache) SetBytes(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (c *closingCache) Close() error {
	c.closed++
	return c.err
}

func TestCloseCache(t *testing.T) {
	t.Run("closes connection-holding backends", func(t *testing.T) {
		c := &closingCache{}
		closeCache(c)
		if c.closed != 1 {
			t.Errorf("Close called %d times, want 1", c.closed)
		}
	})

	t.Run("close error is not fatal", func(t *testing.T) {
		c := &closingCache{err: errors.New("connection reset")}
		closeCache(c)
		if c.closed != 1 {
			t.Errorf("Close called %d times, want 1", c.closed)
		}
	})

	t.Run("memory and disabled caches are skipped", func(t *testing.T) {
		closeCache(cache.NewTTLCache())
		closeCache(nil)
	})
}

func TestNewCache(t *testing.T) {
	c, err := newCache(context.Background(), config.CacheConfig{Backend: "memory"})
	if err != nil || c == nil {
		t.Fatalf("memory backend = %v, %v", c, err)
	}
	c, err = newCache(context.Background(), config.CacheConfig{Backend: "none"})
	if err != nil || c != nil {
		t.Errorf("none backend = %v, %v, want nil cache", c, err)
	}
}
