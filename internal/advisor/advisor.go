// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package advisor composes the request pipeline: admission, input screening,
// prompt assembly, completion, output screening, and cost accounting. It is
// the one place the ordering of those stages is encoded.
package advisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adviso-dev/adviso/internal/admission"
	"github.com/adviso-dev/adviso/internal/billing"
	"github.com/adviso-dev/adviso/internal/maintenance"
	"github.com/adviso-dev/adviso/internal/prompt"
	"github.com/adviso-dev/adviso/internal/provider"
	"github.com/adviso-dev/adviso/internal/security"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Service drives advisory conversations end to end.
type Service struct {
	admission  *admission.Controller
	gate       *security.Gate
	builder    *prompt.Builder
	warmer     *prompt.Warmer
	completer  provider.Completer
	accountant *billing.Accountant
	turns      store.TurnStore
	bus        *maintenance.EventBus
	logger     *slog.Logger

	maxTokens int
}

// Config holds service tuning.
type Config struct {
	// MaxTokens caps generation length per call. Zero uses the provider
	// default.
	MaxTokens int
}

// NewService wires the pipeline stages together.
func NewService(
	admission *admission.Controller,
	gate *security.Gate,
	builder *prompt.Builder,
	warmer *prompt.Warmer,
	completer provider.Completer,
	accountant *billing.Accountant,
	turns store.TurnStore,
	bus *maintenance.EventBus,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		admission:  admission,
		gate:       gate,
		builder:    builder,
		warmer:     warmer,
		completer:  completer,
		accountant: accountant,
		turns:      turns,
		bus:        bus,
		logger:     logger,
		maxTokens:  cfg.MaxTokens,
	}
}

// AdviceRequest is one question from a client conversation.
type AdviceRequest struct {
	Partition string
	SessionID string
	ActorID   string
	Question  string
}

// AdviceResponse carries the answer plus the call's cost accounting.
type AdviceResponse struct {
	TurnID       string
	Answer       string
	Model        string
	Usage        provider.Usage
	Cost         billing.Breakdown
	CacheHitRate float64
}

// Advise runs one question through the pipeline. Admission and the injection
// screen reject before anything is billed; the output screen rejects after
// generation, in which case the call's usage is still recorded because the
// vendor billed it regardless.
func (s *Service) Advise(ctx context.Context, req AdviceRequest) (*AdviceResponse, error) {
	if req.Question == "" {
		return nil, adverr.New(adverr.CodeServerRequestInvalid, "question must not be empty")
	}
	if req.Partition == "" {
		return nil, adverr.New(adverr.CodeServerRequestInvalid, "partition must not be empty")
	}

	if err := s.admission.Check(ctx, admission.ResourceLLM, req.ActorID); err != nil {
		return nil, err
	}
	if err := s.gate.CheckInput(ctx, req.ActorID, req.Question); err != nil {
		return nil, err
	}

	segments, err := s.builder.Build(ctx, req.Partition, req.Question)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		s.warmer.Touch(req.SessionID)
	}

	resp, err := s.completer.Complete(ctx, provider.Request{
		Segments:  segments,
		Messages:  []provider.Message{{Role: provider.MessageRoleUser, Content: req.Question}},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	cost := s.accountant.Record(ctx, req.SessionID, resp.Model, resp.Usage)

	if err := s.gate.CheckOutput(ctx, req.ActorID, resp.Text); err != nil {
		return nil, err
	}

	return &AdviceResponse{
		TurnID:       uuid.NewString(),
		Answer:       resp.Text,
		Model:        resp.Model,
		Usage:        resp.Usage,
		Cost:         cost,
		CacheHitRate: billing.CacheHitRate(resp.Usage),
	}, nil
}

// OpenSession registers the session with the cache warmer so the shared
// prompt prefix stays hot between questions.
func (s *Service) OpenSession(sessionID string) error {
	return s.warmer.Start(sessionID, s.builder.BaseSegments())
}

// CloseSession tears the session's warmer down.
func (s *Service) CloseSession(sessionID string) {
	s.warmer.Stop(sessionID)
}

// Approval records a human's decision on a previously generated answer.
type Approval struct {
	TurnID    string
	Partition string
	SessionID string
	Question  string
	Answer    string
	// EditedAnswer is the human revision, empty when approved as-is.
	EditedAnswer string
}

// Approve persists the approved turn and publishes the domain events that
// drive knowledge promotion and pattern learning.
func (s *Service) Approve(ctx context.Context, approval Approval) (*store.Turn, error) {
	if approval.Partition == "" || approval.Answer == "" {
		return nil, adverr.New(adverr.CodeServerRequestInvalid, "approval requires a partition and an answer")
	}

	turn := &store.Turn{
		ID:           approval.TurnID,
		Partition:    approval.Partition,
		SessionID:    approval.SessionID,
		Question:     approval.Question,
		Answer:       approval.Answer,
		EditedAnswer: approval.EditedAnswer,
		Approved:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	if err := s.turns.Append(ctx, turn); err != nil {
		return nil, err
	}

	if turn.Edited() {
		s.bus.PublishTurnEdited(ctx, turn)
	}
	s.bus.PublishTurnApproved(ctx, turn)

	return turn, nil
}
