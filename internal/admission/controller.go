// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package admission enforces per-actor sliding-window request limits in front
// of the expensive resources (vendor calls, embeddings, ingestion).
package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Resource names a rate-limited resource class.
type Resource string

const (
	ResourceLLM       Resource = "llm"
	ResourceEmbedding Resource = "embedding"
	ResourceIngest    Resource = "ingest"
	ResourceGeneric   Resource = "generic"
)

// Limit bounds how many requests an actor may make within a window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultLimits returns the built-in per-resource limits.
func DefaultLimits() map[Resource]Limit {
	return map[Resource]Limit{
		ResourceLLM:       {MaxRequests: 30, Window: time.Minute},
		ResourceEmbedding: {MaxRequests: 120, Window: time.Minute},
		ResourceIngest:    {MaxRequests: 60, Window: time.Minute},
		ResourceGeneric:   {MaxRequests: 300, Window: time.Minute},
	}
}

// Controller admits or rejects requests against persisted window counters.
// The check-then-increment sequence is not atomic; concurrent requests can
// overshoot a limit by a small bounded amount, which is acceptable for a
// cost guard.
type Controller struct {
	store   store.RateLimitStore
	limits  map[Resource]Limit
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewController validates the limit table and creates a controller.
func NewController(s store.RateLimitStore, limits map[Resource]Limit, logger *slog.Logger) (*Controller, error) {
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	for resource, limit := range limits {
		if limit.MaxRequests <= 0 {
			return nil, adverr.Errorf(adverr.CodeAdmissionConfigInvalid,
				"resource %q: max requests must be positive, got %d", resource, limit.MaxRequests)
		}
		if limit.Window <= 0 {
			return nil, adverr.Errorf(adverr.CodeAdmissionConfigInvalid,
				"resource %q: window must be positive, got %s", resource, limit.Window)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:   s,
		limits:  limits,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// SetNowFunc overrides the clock. Test hook.
func (c *Controller) SetNowFunc(f func() time.Time) {
	c.nowFunc = f
}

// Check admits one request for the actor against the resource's limit.
// Returns an error with retry-after metadata when the window is exhausted.
// A storage failure admits the request: the limiter protects cost, and a
// broken limiter must not take the service down with it.
func (c *Controller) Check(ctx context.Context, resource Resource, actorID string) error {
	limit, ok := c.limits[resource]
	if !ok {
		limit, ok = c.limits[ResourceGeneric]
		if !ok {
			return nil
		}
	}

	now := c.nowFunc().UTC()
	key := string(resource) + ":" + actorID

	window, err := c.store.Get(ctx, key)
	switch {
	case adverr.IsNotFound(err):
		return c.openWindow(ctx, key, now, limit)
	case err != nil:
		c.logger.Warn("admission store read failed, admitting request",
			"resource", string(resource), "actor_id", actorID, "error", err)
		return nil
	}

	if now.Sub(window.WindowStart) >= limit.Window {
		return c.openWindow(ctx, key, now, limit)
	}

	if window.Count >= limit.MaxRequests {
		return adverr.New(adverr.CodeAdmissionRateLimitExceeded,
			"request rate limit exceeded",
			adverr.Field("resource", string(resource)),
			adverr.FieldActor(actorID),
			adverr.FieldRetryAfter(window.ResetAt.Sub(now)),
		)
	}

	if _, err := c.store.Increment(ctx, key); err != nil {
		c.logger.Warn("admission counter increment failed, admitting request",
			"resource", string(resource), "actor_id", actorID, "error", err)
	}
	return nil
}

func (c *Controller) openWindow(ctx context.Context, key string, now time.Time, limit Limit) error {
	window := &store.RateLimitWindow{
		Key:         key,
		Count:       1,
		WindowStart: now,
		ResetAt:     now.Add(limit.Window),
	}
	if err := c.store.Put(ctx, window); err != nil {
		c.logger.Warn("admission window create failed, admitting request",
			"key", key, "error", err)
	}
	return nil
}

// Sweep deletes windows whose reset time has passed and returns the count.
func (c *Controller) Sweep(ctx context.Context) (int64, error) {
	return c.store.DeleteExpired(ctx, c.nowFunc().UTC())
}

// RunSweeper periodically removes expired windows until the context is
// cancelled. Meant to run in its own goroutine.
func (c *Controller) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Warn("admission sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				c.logger.Debug("admission sweep removed expired windows", "deleted", deleted)
			}
		}
	}
}
