// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package maintenance

import (
	"context"
	"log/slog"
	"sync"

	"github.com/adviso-dev/adviso/internal/store"
)

// TurnListener receives domain events from the conversation lifecycle.
// Handlers run synchronously in publish order; a failing handler is logged
// and does not stop delivery to the remaining listeners.
type TurnListener interface {
	// OnTurnApproved fires when a human approves a turn for promotion.
	OnTurnApproved(ctx context.Context, turn *store.Turn) error
	// OnTurnEdited fires when a human revises an answer before approval.
	OnTurnEdited(ctx context.Context, turn *store.Turn) error
}

// EventBus fans conversation events out to subscribed listeners.
type EventBus struct {
	mu        sync.RWMutex
	listeners []TurnListener
	logger    *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers a listener for all turn events.
func (b *EventBus) Subscribe(listener TurnListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// PublishTurnApproved delivers the approval to every listener.
func (b *EventBus) PublishTurnApproved(ctx context.Context, turn *store.Turn) {
	b.publish(ctx, turn, "turn_approved", TurnListener.OnTurnApproved)
}

// PublishTurnEdited delivers the edit to every listener.
func (b *EventBus) PublishTurnEdited(ctx context.Context, turn *store.Turn) {
	b.publish(ctx, turn, "turn_edited", TurnListener.OnTurnEdited)
}

func (b *EventBus) publish(ctx context.Context, turn *store.Turn, kind string, deliver func(TurnListener, context.Context, *store.Turn) error) {
	b.mu.RLock()
	listeners := make([]TurnListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, listener := range listeners {
		if err := deliver(listener, ctx, turn); err != nil {
			b.logger.Warn("event listener failed",
				"event", kind, "turn_id", turn.ID, "partition", turn.Partition, "error", err)
		}
	}
}
