// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package admission

import (
	"context"
	"sync"
	"time"

	"github.com/adviso-dev/adviso/internal/store"
)

var _ store.RateLimitStore = (*CachedStore)(nil)

// CachedStore is a write-through in-memory cache in front of a persistent
// rate-limit store. Reads hit the map; writes go to the backing store first
// and update the map on success. Safe for concurrent use.
type CachedStore struct {
	backing store.RateLimitStore

	mu      sync.Mutex
	windows map[string]store.RateLimitWindow
}

// NewCachedStore wraps the backing store with an in-memory cache.
func NewCachedStore(backing store.RateLimitStore) *CachedStore {
	return &CachedStore{
		backing: backing,
		windows: make(map[string]store.RateLimitWindow),
	}
}

func (c *CachedStore) Get(ctx context.Context, key string) (*store.RateLimitWindow, error) {
	c.mu.Lock()
	if window, ok := c.windows[key]; ok {
		c.mu.Unlock()
		return &window, nil
	}
	c.mu.Unlock()

	window, err := c.backing.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.windows[key] = *window
	c.mu.Unlock()
	return window, nil
}

func (c *CachedStore) Put(ctx context.Context, window *store.RateLimitWindow) error {
	if err := c.backing.Put(ctx, window); err != nil {
		return err
	}
	c.mu.Lock()
	c.windows[window.Key] = *window
	c.mu.Unlock()
	return nil
}

func (c *CachedStore) Increment(ctx context.Context, key string) (int, error) {
	count, err := c.backing.Increment(ctx, key)
	if err != nil {
		// The cached copy may now be stale; drop it so the next read
		// goes to the backing store.
		c.mu.Lock()
		delete(c.windows, key)
		c.mu.Unlock()
		return 0, err
	}

	c.mu.Lock()
	if window, ok := c.windows[key]; ok {
		window.Count = count
		c.windows[key] = window
	}
	c.mu.Unlock()
	return count, nil
}

func (c *CachedStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := c.backing.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	for key, window := range c.windows {
		if window.ResetAt.Before(now) {
			delete(c.windows, key)
		}
	}
	c.mu.Unlock()
	return deleted, nil
}

func (c *CachedStore) Close() error {
	return c.backing.Close()
}
