// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package maintenance_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adviso-dev/adviso/internal/maintenance"
	"github.com/adviso-dev/adviso/internal/store"
)

type recordingListener struct {
	approved []string
	edited   []string
	err      error
}

func (l *recordingListener) OnTurnApproved(_ context.Context, turn *store.Turn) error {
	l.approved = append(l.approved, turn.ID)
	return l.err
}

func (l *recordingListener) OnTurnEdited(_ context.Context, turn *store.Turn) error {
	l.edited = append(l.edited, turn.ID)
	return l.err
}

func TestEventBus_DeliversToAllListeners(t *testing.T) {
	bus := maintenance.NewEventBus(nil)
	first := &recordingListener{}
	second := &recordingListener{}
	bus.Subscribe(first)
	bus.Subscribe(second)

	turn := &store.Turn{ID: "t-1", Partition: "client-a"}
	bus.PublishTurnApproved(context.Background(), turn)
	bus.PublishTurnEdited(context.Background(), turn)

	assert.Equal(t, []string{"t-1"}, first.approved)
	assert.Equal(t, []string{"t-1"}, first.edited)
	assert.Equal(t, []string{"t-1"}, second.approved)
	assert.Equal(t, []string{"t-1"}, second.edited)
}

func TestEventBus_FailingListenerDoesNotBlockOthers(t *testing.T) {
	bus := maintenance.NewEventBus(nil)
	failing := &recordingListener{err: errors.New("handler broken")}
	healthy := &recordingListener{}
	bus.Subscribe(failing)
	bus.Subscribe(healthy)

	bus.PublishTurnApproved(context.Background(), &store.Turn{ID: "t-2"})

	assert.Equal(t, []string{"t-2"}, healthy.approved)
}

func TestEventBus_NoListenersIsNoOp(t *testing.T) {
	bus := maintenance.NewEventBus(nil)
	bus.PublishTurnApproved(context.Background(), &store.Turn{ID: "t-3"})
}
